package common

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// PairID hashes the two token addresses in ascending order, so (A,B) and
// (B,A) map to the same id.
func PairID(tokenA, tokenB common.Address) common.Hash {
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) > 0 {
		tokenA, tokenB = tokenB, tokenA
	}
	return crypto.Keccak256Hash(tokenA.Bytes(), tokenB.Bytes())
}

func ConfigID(creator common.Address, pairID common.Hash, nonce uint64, createdAt int64) common.Hash {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], nonce)
	binary.BigEndian.PutUint64(buf[8:], uint64(createdAt))
	return crypto.Keccak256Hash(creator.Bytes(), pairID.Bytes(), buf[:])
}

func IsZeroAddress(addr common.Address) bool {
	return addr == (common.Address{})
}

// ParseAddress accepts a 0x-prefixed 20 byte hex address.
func ParseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func ParseHash(s string) (common.Hash, bool) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 2*common.HashLength {
		return common.Hash{}, false
	}
	h := common.HexToHash(s)
	if h.Hex()[2:] != strings.ToLower(s) {
		return common.Hash{}, false
	}
	return h, true
}

func GetSortingCondition(sort string) (string, string) {
	// Default sorting column
	orderBy := "creation_date"
	orderDirection := "ASC"

	isDescending := strings.HasPrefix(sort, "-")
	columnName := strings.TrimPrefix(sort, "-")

	allowedColumns := map[string]bool{"creation_date": true, "last_execution_time": true, "amount": true}
	if allowedColumns[columnName] {
		orderBy = columnName
	}

	if isDescending {
		orderDirection = "DESC"
	}

	return orderBy, orderDirection
}
