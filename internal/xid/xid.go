// Package xid mints prefixed document ids: usr, itm, inv, pay, sale, itx,
// rst, ntf, jti. The prefix makes an id self-describing in logs and audit
// rows; the timestamp keeps ids roughly sortable by creation.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns "<prefix>-<unixnano>-<8 random bytes hex>". If the random
// source fails the id degrades to prefix and timestamp alone.
func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
