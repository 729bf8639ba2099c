package celestia

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Location of a blob within the configured namespace
type BlobID struct {
	Height     uint64
	Commitment []byte
}

// Parses "<height>:<hex commitment>"
func ParseBlobID(v string) (out BlobID, err error) {
	height, commitment, found := strings.Cut(v, ":")
	if !found {
		err = fmt.Errorf("%w: blob id %q has no commitment", ErrInvalidBlob, v)
		return
	}

	out.Height, err = strconv.ParseUint(height, 10, 64)
	if err != nil || out.Height == 0 {
		err = fmt.Errorf("%w: blob id %q has invalid height", ErrInvalidBlob, v)
		return
	}

	out.Commitment, err = hex.DecodeString(strings.TrimPrefix(commitment, "0x"))
	if err != nil || len(out.Commitment) == 0 {
		err = fmt.Errorf("%w: blob id %q has invalid commitment", ErrInvalidBlob, v)
		return
	}
	return out, nil
}

func (self BlobID) String() string {
	return fmt.Sprintf("%d:%s", self.Height, hex.EncodeToString(self.Commitment))
}
