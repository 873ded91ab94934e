// Package model defines the four persisted entity kinds and their public
// projections. Stores persist these; services enforce the ownership rules
// around them.
package model

import "time"

// Domain is a DNS name that opted into hosting walias directory service.
// RootPrivateKey is exclusively owned by this record and must never appear
// in an API response; the public half is derived on read.
type Domain struct {
	ID             string    `json:"id"`
	RootPrivateKey string    `json:"-"`
	AdminPubkey    string    `json:"adminPubkey"`
	VerifyKey      string    `json:"verifyKey"`
	Verified       bool      `json:"verified"`
	Relays         []string  `json:"relays"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// DomainProjection is the externally visible view of a Domain. RootPubkey is
// derived from the stored private key; the private key itself stays behind.
type DomainProjection struct {
	Domain      string   `json:"domain"`
	AdminPubkey string   `json:"adminPubkey"`
	VerifyKey   string   `json:"verifyKey,omitempty"`
	Verified    bool     `json:"verified"`
	Relays      []string `json:"relays"`
	RootPubkey  string   `json:"rootPubkey"`
}

// RegisteredDomain is returned once, on registration, and additionally
// carries the verification challenge the registrant must publish.
type RegisteredDomain struct {
	Domain        string   `json:"domain"`
	Relays        []string `json:"relays"`
	AdminPubkey   string   `json:"adminPubkey,omitempty"`
	RootPubkey    string   `json:"rootPubkey,omitempty"`
	VerifyURL     string   `json:"verifyUrl"`
	VerifyContent string   `json:"verifyContent"`
}

// User tracks the relay list for a public key. Records are created lazily
// the first time a pubkey claims a walias.
type User struct {
	Pubkey    string    `json:"pubkey"`
	Relays    []string  `json:"relays"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Walias is a directory entry mapping name@domain to a public key. The
// synthetic ID is "<name>@<domainId>", lowercase and trimmed.
type Walias struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	DomainID  string    `json:"domainId"`
	Pubkey    string    `json:"pubkey"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// WaliasID builds the synthetic walias key.
func WaliasID(name, domainID string) string {
	return name + "@" + domainID
}

// Wallet is a per-walias payment-provider configuration owned by a pubkey.
// Config is stored serialized but always crosses the service boundary as
// structured data.
type Wallet struct {
	ID          string         `json:"id"`
	Pubkey      string         `json:"pubkey"`
	Config      map[string]any `json:"config"`
	Provider    string         `json:"provider"`
	WaliasID    string         `json:"waliasId"`
	Priority    int            `json:"priority"`
	LastEventID *string        `json:"lastEventId"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Quote is a pricing offer for an unclaimed walias.
type Quote struct {
	Price    int64             `json:"price"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
