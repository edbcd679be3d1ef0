package model

// RequiredColumns lists the canonical input columns every upload must carry,
// in the order the scorer expects them.
var RequiredColumns = []string{
	"age",
	"job",
	"marital",
	"education",
	"default",
	"balance",
	"housing",
	"loan",
	"contact",
	"day",
	"month",
	"campaign",
	"pdays",
	"previous",
	"poutcome",
}

// IntegerColumns are coerced to int when a record is persisted.
var IntegerColumns = map[string]bool{
	"age":      true,
	"day":      true,
	"campaign": true,
	"pdays":    true,
	"previous": true,
}

// FloatColumns are coerced to float64 when a record is persisted.
var FloatColumns = map[string]bool{
	"balance": true,
}

// NormalizedRecord maps a canonical lowercase column name to its raw value.
type NormalizedRecord map[string]string

// Role gates administrative endpoints.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is the authenticated caller as reported by the identity provider.
type User struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}
