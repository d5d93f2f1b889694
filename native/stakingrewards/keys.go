package stakingrewards

import "github.com/ethereum/go-ethereum/common"

var (
	programPrefix   = []byte("stakingrewards/program/")
	programIndexKey = []byte("stakingrewards/programs")
)

func programKey(pool common.Address) []byte {
	buf := make([]byte, len(programPrefix)+common.AddressLength)
	copy(buf, programPrefix)
	copy(buf[len(programPrefix):], pool.Bytes())
	return buf
}
