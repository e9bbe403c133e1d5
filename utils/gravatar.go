package utils

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// AvatarHash is the md5 of the normalised email, as gravatar expects.
func AvatarHash(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

// GravatarURL returns an identicon avatar URL of the given pixel size.
func GravatarURL(hash string, size int) string {
	return fmt.Sprintf("https://secure.gravatar.com/avatar/%s?s=%d&d=identicon&r=g", hash, size)
}
