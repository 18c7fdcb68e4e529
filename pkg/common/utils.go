package common

import (
	"math/rand"
	"os"
	"strconv"
	"time"
)

func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}

	return fallback
}

func GetEnvInt(key string, fallback int) int {
	str := GetEnv(key, strconv.Itoa(fallback))
	val, err := strconv.Atoi(str)
	if err != nil {
		return fallback
	}

	return val
}

// RandomLogonID returns a random positive id for a platform logon attempt.
// Two concurrent logons with the same id kick each other off, so every
// attempt gets a fresh one.
func RandomLogonID() uint32 {
	source := rand.NewSource(time.Now().UnixNano())
	random := rand.New(source)

	return uint32(random.Int31())
}
