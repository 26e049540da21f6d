// Package facts holds the fact types rules are evaluated against.
package facts

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/liamcoop/ruleops/schema"
)

// DateLayout is the wire format of Date.
const DateLayout = "2006-01-02"

// now is the clock derived fields are computed against.
var now = time.Now

// Date is a calendar date serialized as yyyy-mm-dd.
type Date struct {
	time.Time
}

// NewDate returns the date at midnight UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a yyyy-mm-dd string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q, expected yyyy-mm-dd: %w", s, err)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(DateLayout))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if strings.TrimSpace(s) == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Customer is the record rules are executed against. Output fields are
// nil until a rule sets them.
type Customer struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Email            string   `json:"email"`
	Age              int      `json:"age"`
	Category         string   `json:"category"`
	TotalPurchases   float64  `json:"totalPurchases"`
	RegistrationDate Date     `json:"registrationDate"`
	Country          string   `json:"country"`
	City             string   `json:"city"`
	IsPremium        bool     `json:"isPremium"`
	Interests        []string `json:"interests"`
	CreditScore      int      `json:"creditScore"`
	RiskLevel        string   `json:"riskLevel"`
	IsActive         bool     `json:"isActive"`
	LoyaltyPoints    int      `json:"loyaltyPoints"`

	// Decision outputs
	Discount             *string `json:"discount"`
	Recommendation       *string `json:"recommendation"`
	Alert                *string `json:"alert"`
	EligibleForPromotion *bool   `json:"eligibleForPromotion"`
	NextAction           *string `json:"nextAction"`
}

// Derived holds the read-only fields computed from a customer's inputs.
type Derived struct {
	YoungCustomer         bool  `json:"youngCustomer"`
	VIPCustomer           bool  `json:"vipCustomer"`
	HighValueCustomer     bool  `json:"highValueCustomer"`
	NewCustomer           bool  `json:"newCustomer"`
	LoyalCustomer         bool  `json:"loyalCustomer"`
	DaysSinceRegistration int64 `json:"daysSinceRegistration"`
}

// Derived computes the derived fields as of now.
func (c *Customer) Derived() Derived {
	return c.derivedAt(now())
}

func (c *Customer) derivedAt(t time.Time) Derived {
	d := Derived{
		YoungCustomer:     c.Age < 30,
		VIPCustomer:       c.TotalPurchases > 10000,
		HighValueCustomer: c.TotalPurchases > 5000,
		LoyalCustomer:     c.LoyaltyPoints > 1000,
	}
	if !c.RegistrationDate.IsZero() {
		reg := c.RegistrationDate.Time
		d.NewCustomer = reg.After(t.AddDate(0, -3, 0))
		d.DaysSinceRegistration = int64(t.Sub(reg).Hours() / 24)
	}
	return d
}

// ResetOutputs clears every decision output.
func (c *Customer) ResetOutputs() {
	c.Discount = nil
	c.Recommendation = nil
	c.Alert = nil
	c.EligibleForPromotion = nil
	c.NextAction = nil
}

// MarshalJSON includes the derived fields alongside the record.
func (c Customer) MarshalJSON() ([]byte, error) {
	type record Customer
	return json.Marshal(struct {
		record
		Derived
	}{record(c), c.Derived()})
}

// FactType implements ruleset.Fact.
func (c *Customer) FactType() string {
	return CustomerType.Name
}

// Vars implements ruleset.Fact. Unset outputs read as their zero value.
func (c *Customer) Vars() map[string]any {
	d := c.Derived()
	interests := c.Interests
	if interests == nil {
		interests = []string{}
	}
	return map[string]any{
		"id":               c.ID,
		"name":             c.Name,
		"email":            c.Email,
		"age":              int64(c.Age),
		"category":         c.Category,
		"totalPurchases":   c.TotalPurchases,
		"registrationDate": c.RegistrationDate.Time,
		"country":          c.Country,
		"city":             c.City,
		"isPremium":        c.IsPremium,
		"interests":        interests,
		"creditScore":      int64(c.CreditScore),
		"riskLevel":        c.RiskLevel,
		"isActive":         c.IsActive,
		"loyaltyPoints":    int64(c.LoyaltyPoints),

		"youngCustomer":         d.YoungCustomer,
		"vipCustomer":           d.VIPCustomer,
		"highValueCustomer":     d.HighValueCustomer,
		"newCustomer":           d.NewCustomer,
		"loyalCustomer":         d.LoyalCustomer,
		"daysSinceRegistration": d.DaysSinceRegistration,

		"discount":             deref(c.Discount),
		"recommendation":       deref(c.Recommendation),
		"alert":                deref(c.Alert),
		"eligibleForPromotion": c.EligibleForPromotion != nil && *c.EligibleForPromotion,
		"nextAction":           deref(c.NextAction),
	}
}

// Set implements ruleset.Fact.
func (c *Customer) Set(field string, value any) error {
	switch field {
	case "discount":
		return setString(&c.Discount, field, value)
	case "recommendation":
		return setString(&c.Recommendation, field, value)
	case "alert":
		return setString(&c.Alert, field, value)
	case "nextAction":
		return setString(&c.NextAction, field, value)
	case "eligibleForPromotion":
		if value == nil {
			c.EligibleForPromotion = nil
			return nil
		}
		b, ok := value.(bool)
		if !ok {
			return typeError(field, "bool", value)
		}
		c.EligibleForPromotion = &b
		return nil
	}

	if value == nil {
		return fmt.Errorf("field %s cannot be null", field)
	}

	var ok bool
	switch field {
	case "id":
		c.ID, ok = value.(string)
	case "name":
		c.Name, ok = value.(string)
	case "email":
		c.Email, ok = value.(string)
	case "category":
		c.Category, ok = value.(string)
	case "country":
		c.Country, ok = value.(string)
	case "city":
		c.City, ok = value.(string)
	case "riskLevel":
		c.RiskLevel, ok = value.(string)
	case "isPremium":
		c.IsPremium, ok = value.(bool)
	case "isActive":
		c.IsActive, ok = value.(bool)
	case "totalPurchases":
		c.TotalPurchases, ok = value.(float64)
	case "interests":
		c.Interests, ok = value.([]string)
	case "age":
		c.Age, ok = toInt(value)
	case "creditScore":
		c.CreditScore, ok = toInt(value)
	case "loyaltyPoints":
		c.LoyaltyPoints, ok = toInt(value)
	case "registrationDate":
		var t time.Time
		if t, ok = value.(time.Time); ok {
			c.RegistrationDate = Date{t}
		}
	default:
		if f, known := CustomerType.Field(field); known && f.ReadOnly {
			return fmt.Errorf("field %s is read-only", field)
		}
		return fmt.Errorf("unknown field %s", field)
	}
	if !ok {
		f, _ := CustomerType.Field(field)
		return typeError(field, string(f.Type), value)
	}
	return nil
}

func setString(dst **string, field string, value any) error {
	if value == nil {
		*dst = nil
		return nil
	}
	s, ok := value.(string)
	if !ok {
		return typeError(field, "string", value)
	}
	*dst = &s
	return nil
}

func toInt(v any) (int, bool) {
	i, ok := v.(int64)
	return int(i), ok
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func typeError(field, want string, got any) error {
	return fmt.Errorf("field %s expects %s, got %T", field, want, got)
}

// CustomerType describes Customer to the rule compiler.
var CustomerType = &schema.FactType{
	Name: "Customer",
	Fields: []schema.Field{
		{Name: "id", Type: schema.String},
		{Name: "name", Type: schema.String},
		{Name: "email", Type: schema.String},
		{Name: "age", Type: schema.Int},
		{Name: "category", Type: schema.String, Description: "customer segment, commonly set by categorization rules"},
		{Name: "totalPurchases", Type: schema.Float64},
		{Name: "registrationDate", Type: schema.Timestamp},
		{Name: "country", Type: schema.String},
		{Name: "city", Type: schema.String},
		{Name: "isPremium", Type: schema.Bool},
		{Name: "interests", Type: schema.StringList},
		{Name: "creditScore", Type: schema.Int},
		{Name: "riskLevel", Type: schema.String},
		{Name: "isActive", Type: schema.Bool},
		{Name: "loyaltyPoints", Type: schema.Int},

		{Name: "youngCustomer", Type: schema.Bool, ReadOnly: true, Description: "age < 30"},
		{Name: "vipCustomer", Type: schema.Bool, ReadOnly: true, Description: "totalPurchases > 10000"},
		{Name: "highValueCustomer", Type: schema.Bool, ReadOnly: true, Description: "totalPurchases > 5000"},
		{Name: "newCustomer", Type: schema.Bool, ReadOnly: true, Description: "registered within the last 3 months"},
		{Name: "loyalCustomer", Type: schema.Bool, ReadOnly: true, Description: "loyaltyPoints > 1000"},
		{Name: "daysSinceRegistration", Type: schema.Int, ReadOnly: true},

		{Name: "discount", Type: schema.String, Output: true},
		{Name: "recommendation", Type: schema.String, Output: true},
		{Name: "alert", Type: schema.String, Output: true},
		{Name: "eligibleForPromotion", Type: schema.Bool, Output: true},
		{Name: "nextAction", Type: schema.String, Output: true},
	},
}

// Registry returns a registry holding every fact type of this package.
func Registry() *schema.Registry {
	r := schema.NewRegistry()
	r.MustRegister(CustomerType)
	return r
}
