package model

import (
	"fmt"
	"math/rand"
	"time"
)

// NewID generates a snowflake-style decimal ID: unix milliseconds followed
// by four random digits. The result is 17 digits and must stay a string;
// it exceeds float64 integer precision.
func NewID() string {
	return fmt.Sprintf("%d%04d", time.Now().UnixMilli(), rand.Intn(10000))
}
