package api

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	jobIDPrefix = "job_"
)

var jobIDPattern = regexp.MustCompile(`^job_[a-zA-Z0-9]{24}$`)

// NewJobID generates a new job ID with the "job_" prefix followed by
// 24 cryptographically random alphanumeric characters.
func NewJobID() string {
	return jobIDPrefix + randomAlphanumeric(idLength)
}

// ValidateJobID checks whether the given string is a valid worker-assigned
// job ID. Platform-assigned IDs arriving in the job body bypass this check.
func ValidateJobID(id string) bool {
	return jobIDPattern.MatchString(id)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
