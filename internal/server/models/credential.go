package models

import "time"

// AuthLogins flags which third-party sign-in providers an account is linked to.
type AuthLogins struct {
	Google   bool `json:"google"`
	Github   bool `json:"github"`
	Facebook bool `json:"facebook"`
	Twitter  bool `json:"twitter"`
	Wechat   bool `json:"wechat"`
	Weibo    bool `json:"weibo"`
	QQ       bool `json:"qq"`
	Alipay   bool `json:"alipay"`
	Dingtalk bool `json:"dingtalk"`
	Feishu   bool `json:"feishu"`
}

// Credential is one stored account. Payload holds the sealed secret
// (nonce||ciphertext); the other fields are searchable metadata.
// A deleted credential keeps its row as a tombstone with an empty payload.
type Credential struct {
	ID         string
	VaultID    string
	Name       string
	Username   string
	Payload    []byte
	Email      string
	Phone      string
	Website    string
	Notes      string
	AuthLogins AuthLogins
	Deleted    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Clone returns a deep copy.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	out := *c
	out.Payload = cloneBytes(c.Payload)
	return &out
}
