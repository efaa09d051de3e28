package patterns

// Dimension identifies one axis of the triad score.
type Dimension string

const (
	DimUrgency   Dimension = "urgency"
	DimAuthority Dimension = "authority"
	DimEmotion   Dimension = "emotion"
	DimFinancial Dimension = "financial"
)

// allDimensions is the fixed scoring order.
var allDimensions = []Dimension{DimUrgency, DimAuthority, DimEmotion, DimFinancial}

// Category represents a scam family. Categories are checked in priority
// order; the first table with a match wins.
type Category string

const (
	CategoryBankImpersonation Category = "bank_impersonation"
	CategoryLottery           Category = "lottery"
	CategoryInvestment        Category = "investment"
	CategoryJobOffer          Category = "job_offer"
	CategoryUnknown           Category = "unknown"
)

// EntityType identifies one kind of extractable identifier.
type EntityType string

const (
	EntityUPI         EntityType = "upi_id"
	EntityBankAccount EntityType = "bank_account"
	EntityIFSC        EntityType = "ifsc"
	EntityPhone       EntityType = "phone"
	EntityURL         EntityType = "url"
)

// AllEntityTypes is the fixed extraction order.
var AllEntityTypes = []EntityType{EntityUPI, EntityBankAccount, EntityIFSC, EntityPhone, EntityURL}

// TermSpec is one weighted pattern in a dimension table. Patterns are
// compiled case-insensitive and word-bounded unless Raw is set, in which
// case the pattern source is compiled as written.
type TermSpec struct {
	Pattern string  `yaml:"pattern"`
	Weight  float64 `yaml:"weight"`
	Raw     bool    `yaml:"raw,omitempty"`
}

// DimensionSpec is one triad dimension: its weighted terms and the cap
// applied to their summed weights.
type DimensionSpec struct {
	Cap   float64    `yaml:"cap"`
	Terms []TermSpec `yaml:"terms"`
}

// CategorySpec is one category-indicative keyword set. Slice order in
// Tables.Categories is the match priority order.
type CategorySpec struct {
	Name  Category `yaml:"name"`
	Terms []string `yaml:"terms"`
}

// BankNameSpec maps a context regex to a bank display name, used to
// enrich extracted account numbers. Slice order is the match order.
type BankNameSpec struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// Tables is the full pattern configuration: triad dimension tables,
// category tables, entity format regexes, and enrichment maps. It is
// plain data so deployments can tune detection without code changes.
type Tables struct {
	Dimensions   map[Dimension]DimensionSpec `yaml:"dimensions"`
	Categories   []CategorySpec              `yaml:"categories"`
	Entities     map[EntityType]string       `yaml:"entities"`
	UPIProviders map[string]string           `yaml:"upi_providers"`
	BankNames    []BankNameSpec              `yaml:"bank_names"`
	Amount       string                      `yaml:"amount"`
	SenderName   string                      `yaml:"sender_name"`
}

// builtinTables returns the compiled-in pattern configuration. Weights
// are calibrated so a few strong matches across dimensions clear the
// 2.5/10 raw scam cut while a single common word stays well under it.
func builtinTables() *Tables {
	return &Tables{
		Dimensions: map[Dimension]DimensionSpec{
			DimUrgency: {
				Cap: 3.0,
				Terms: []TermSpec{
					{Pattern: `immediately`, Weight: 1.0},
					{Pattern: `urgent(?:ly)?`, Weight: 1.0},
					{Pattern: `within \d+ (?:hours?|minutes?|days?)`, Weight: 1.2},
					{Pattern: `asap`, Weight: 0.8},
					{Pattern: `right now`, Weight: 0.8},
					{Pattern: `act now`, Weight: 0.8},
					{Pattern: `claim now`, Weight: 0.8},
					{Pattern: `will be (?:blocked|suspended|closed|deactivated)`, Weight: 1.2},
					{Pattern: `expire[sd]? (?:soon|today|tomorrow)`, Weight: 1.0},
					{Pattern: `last (?:chance|warning)`, Weight: 1.0},
					{Pattern: `final notice`, Weight: 1.0},
					{Pattern: `before it'?s too late`, Weight: 1.0},
				},
			},
			DimAuthority: {
				Cap: 3.0,
				Terms: []TermSpec{
					{Pattern: `rbi`, Weight: 1.2},
					{Pattern: `reserve bank`, Weight: 1.2},
					{Pattern: `income tax`, Weight: 1.0},
					{Pattern: `tax department`, Weight: 1.0},
					{Pattern: `kyc`, Weight: 1.0},
					{Pattern: `bank (?:official|officer|manager)`, Weight: 1.0},
					{Pattern: `customer (?:care|support)`, Weight: 0.8},
					{Pattern: `verification (?:team|department)`, Weight: 1.0},
					{Pattern: `account (?:has been |is )?(?:blocked|suspended|frozen)`, Weight: 1.0},
					{Pattern: `police|cyber ?cell|cbi`, Weight: 1.2},
					{Pattern: `government`, Weight: 0.8},
					{Pattern: `legal action`, Weight: 1.0},
					{Pattern: `head office`, Weight: 0.8},
					{Pattern: `official notice`, Weight: 0.8},
				},
			},
			DimEmotion: {
				Cap: 2.0,
				Terms: []TermSpec{
					{Pattern: `congratulations`, Weight: 0.8},
					{Pattern: `you (?:have |'ve )?won`, Weight: 0.8},
					{Pattern: `lucky (?:draw|winner|customer)`, Weight: 0.8},
					{Pattern: `dear (?:customer|friend|sir|madam|winner)`, Weight: 0.5},
					{Pattern: `don'?t tell anyone`, Weight: 0.8},
					{Pattern: `secret`, Weight: 0.6},
					{Pattern: `trust me`, Weight: 0.6},
					{Pattern: `once in a lifetime`, Weight: 0.8},
					{Pattern: `dream (?:come true|job|offer)`, Weight: 0.6},
					{Pattern: `(?:been|are) selected`, Weight: 0.6},
					{Pattern: `god bless`, Weight: 0.5},
					{Pattern: `exclusive offer`, Weight: 0.5},
				},
			},
			DimFinancial: {
				Cap: 2.0,
				Terms: []TermSpec{
					{Pattern: `otp`, Weight: 1.0},
					{Pattern: `pin|cvv|password`, Weight: 1.0},
					{Pattern: `card number`, Weight: 0.8},
					{Pattern: `account number`, Weight: 0.8},
					{Pattern: `send money`, Weight: 0.8},
					{Pattern: `transfer`, Weight: 0.6},
					{Pattern: `upi`, Weight: 0.6},
					{Pattern: `(?:processing|clearance|registration|activation) fee`, Weight: 1.0},
					{Pattern: `refund`, Weight: 0.6},
					{Pattern: `payment`, Weight: 0.5},
					{Pattern: `(?:rs\.?|inr)\s*\d`, Weight: 0.8},
					{Pattern: `₹\s*\d`, Weight: 0.8, Raw: true},
				},
			},
		},
		Categories: []CategorySpec{
			{
				Name: CategoryBankImpersonation,
				Terms: []string{
					`kyc`,
					`account blocked`,
					`account suspended`,
					`verify (?:your )?account`,
					`update (?:your )?kyc`,
					`suspend(?:ed)? account`,
					`bank verification`,
					`rbi`,
					`reserve bank`,
					`net ?banking`,
					`debit card`,
				},
			},
			{
				Name: CategoryLottery,
				Terms: []string{
					`congratulations`,
					`lottery`,
					`prize`,
					`winner`,
					`jackpot`,
					`lucky draw`,
					`you (?:have |'ve )?won`,
					`claim (?:your )?prize`,
				},
			},
			{
				Name: CategoryInvestment,
				Terms: []string{
					`investment opportunity`,
					`guaranteed returns?`,
					`double your money`,
					`profit`,
					`trading`,
					`crypto`,
					`bitcoin`,
					`stock market tip`,
					`high returns?`,
				},
			},
			{
				Name: CategoryJobOffer,
				Terms: []string{
					`work from home`,
					`part[- ]time job`,
					`job offer`,
					`earn (?:daily|weekly|money|from home)`,
					`salary`,
					`hiring`,
					`registration fee`,
					`interview`,
					`vacancy`,
				},
			},
		},
		Entities: map[EntityType]string{
			EntityUPI:         `\b[a-zA-Z0-9._-]+@[a-zA-Z]{3,}\b`,
			EntityBankAccount: `\b\d{9,18}\b`,
			EntityIFSC:        `\b[A-Z]{4}0[A-Z0-9]{6}\b`,
			// RE2 has no lookbehind and a "+" after a space is not a word
			// boundary, so the +91 branch carries its own left guard.
			EntityPhone: `(?:\+91|\b0|\b)[6-9]\d{9}\b`,
			EntityURL:   `https?://[^\s<>")]+`,
		},
		UPIProviders: map[string]string{
			"paytm":      "Paytm Payments Bank",
			"ybl":        "PhonePe (Yes Bank)",
			"ibl":        "PhonePe (ICICI)",
			"axl":        "PhonePe (Axis)",
			"oksbi":      "Google Pay (SBI)",
			"okhdfcbank": "Google Pay (HDFC)",
			"okicici":    "Google Pay (ICICI)",
			"okaxis":     "Google Pay (Axis)",
			"sbi":        "State Bank of India",
			"hdfcbank":   "HDFC Bank",
			"icici":      "ICICI Bank",
			"axisbank":   "Axis Bank",
			"kotak":      "Kotak Mahindra Bank",
			"upi":        "NPCI BHIM",
			"apl":        "Amazon Pay",
			"freecharge": "Freecharge",
		},
		BankNames: []BankNameSpec{
			{Name: "sbi", Pattern: `\bsbi\b|\bstate bank\b`},
			{Name: "hdfc", Pattern: `\bhdfc\b`},
			{Name: "icici", Pattern: `\bicici\b`},
			{Name: "axis", Pattern: `\baxis\b`},
			{Name: "paytm", Pattern: `\bpaytm\b`},
			{Name: "phonepe", Pattern: `\bphonepe\b`},
			{Name: "gpay", Pattern: `\bgpay\b|google pay`},
			{Name: "kotak", Pattern: `\bkotak\b`},
		},
		Amount:     `(?:[Rr][Ss]\.?|₹|INR)\s*\d+(?:,\d+)*(?:\.\d{1,2})?`,
		SenderName: `(?:[Tt]his is|[Ii] am|[Ii]'m|[Mm]y name is)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`,
	}
}
