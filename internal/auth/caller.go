package auth

import (
	"github.com/gin-gonic/gin"
)

type Capability string

const (
	// CapStaff lets a caller drive compo state, import keys and read live rankings.
	CapStaff Capability = "staff"
)

const callerKey = "caller"

// Caller is the identity resolved once at the request boundary and handed
// to services explicitly.
type Caller struct {
	AccountID    string
	Capabilities map[Capability]bool
}

func (c Caller) Has(capability Capability) bool {
	return c.Capabilities[capability]
}

func NewCaller(accountID string, caps ...Capability) Caller {
	set := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return Caller{AccountID: accountID, Capabilities: set}
}

// ResolveStaff runs after JWT authentication and grants CapStaff to the
// configured staff accounts. Everyone else gets an empty capability set.
func ResolveStaff(staffAccountIDs []string) gin.HandlerFunc {
	staff := make(map[string]bool, len(staffAccountIDs))
	for _, id := range staffAccountIDs {
		staff[id] = true
	}

	return func(c *gin.Context) {
		accountID := c.GetString("account_id")
		if staff[accountID] {
			c.Set(callerKey, NewCaller(accountID, CapStaff))
		} else {
			c.Set(callerKey, NewCaller(accountID))
		}
		c.Next()
	}
}

// GrantService is used behind service-token authentication. Operator
// control surfaces authenticate this way and are always staff.
func GrantService() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(callerKey, NewCaller("service", CapStaff))
		c.Next()
	}
}

// CallerFrom returns the request's caller, or an anonymous one.
func CallerFrom(c *gin.Context) Caller {
	if v, ok := c.Get(callerKey); ok {
		if caller, ok := v.(Caller); ok {
			return caller
		}
	}
	return NewCaller("")
}
