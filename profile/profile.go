// Package profile holds the user profile model and its DynamoDB store.
package profile

import (
	"bytes"
	"time"
)

// Profile is a user profile. IdentityID is assigned by the identity pool and
// never taken from caller input. Image is the avatar content, which lives in
// the object store and is joined in after load.
type Profile struct {
	IdentityID string
	Name       *string
	Image      []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Data is caller-supplied profile content. Nil fields leave the current value
// untouched when merged.
type Data struct {
	IdentityID string
	Name       *string
	Image      []byte
}

// HasImage reports whether the profile carries avatar bytes.
func (p Profile) HasImage() bool {
	return len(p.Image) > 0
}

// Merge returns a copy of p with the non-nil fields of d applied. The
// identity id of p is kept.
func Merge(p Profile, d Data) Profile {
	out := p
	if d.Name != nil {
		name := *d.Name
		out.Name = &name
	}
	if d.Image != nil {
		out.Image = append([]byte(nil), d.Image...)
	}
	return out
}

// DataOf returns the content of p as Data.
func DataOf(p Profile) Data {
	return Data{IdentityID: p.IdentityID, Name: p.Name, Image: p.Image}
}

// Equal reports whether a and b have the same identity and content.
// Timestamps are bookkeeping and do not take part.
func Equal(a, b Profile) bool {
	if a.IdentityID != b.IdentityID {
		return false
	}
	switch {
	case a.Name == nil && b.Name == nil:
	case a.Name == nil || b.Name == nil:
		return false
	case *a.Name != *b.Name:
		return false
	}
	return bytes.Equal(a.Image, b.Image)
}
