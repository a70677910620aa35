/*
Package randx provides generation of cryptographically secure random identifiers.

It generates fixed-length Base62 room ids and UUID v4 user/session ids.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the number of characters in the Base62 character set.
	Base62Len = int64(len(Base62Chars))

	// RoomIDLength is the fixed length of generated room ids.
	RoomIDLength = 6
)

// RoomID generates a Base62 room id of length RoomIDLength using crypto/rand.
func RoomID() (string, error) {
	result := make([]byte, RoomIDLength)

	for i := 0; i < RoomIDLength; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number for room id: %v", err)
		}

		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

// UserID generates a UUID v4 string for anonymous editor sessions.
func UserID() string {
	return uuid.New().String()
}

// IsValidRoomID reports whether the given string is a well-formed room id:
// exactly RoomIDLength characters, all from the Base62 set.
func IsValidRoomID(id string) bool {
	if len(id) != RoomIDLength {
		return false
	}

	for _, char := range id {
		if !strings.ContainsRune(Base62Chars, char) {
			return false
		}
	}

	return true
}
