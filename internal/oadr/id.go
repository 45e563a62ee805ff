package oadr

import "github.com/google/uuid"

// GenerateID returns a fresh identifier for requests, reports and opts.
func GenerateID() string {
	return uuid.NewString()
}
