// Package sigutil signs and verifies EIP-191 personal messages used to
// authenticate API callers.
package sigutil

import (
	"crypto/ecdsa"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// CallerMessage is the payload a caller signs for one request:
//
//	<METHOD> <path>\n<unix seconds>\n<idempotency key>\n<body>
func CallerMessage(method, path string, timestamp int64, idempotencyKey string, body []byte) []byte {
	ts := strconv.FormatInt(timestamp, 10)
	msg := make([]byte, 0, len(method)+len(path)+len(ts)+len(idempotencyKey)+len(body)+4)
	msg = append(msg, method...)
	msg = append(msg, ' ')
	msg = append(msg, path...)
	msg = append(msg, '\n')
	msg = append(msg, ts...)
	msg = append(msg, '\n')
	msg = append(msg, idempotencyKey...)
	msg = append(msg, '\n')
	return append(msg, body...)
}

// Sign produces a 65 byte signature with V in {27, 28}.
func Sign(key *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), key)
	if err != nil {
		return nil, fmt.Errorf("crypto.Sign failed: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverAddress returns the account that signed msg. V may be 0/1 or 27/28.
func RecoverAddress(msg, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	s := make([]byte, len(sig))
	copy(s, sig)
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(msg), s)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto.SigToPub failed: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func VerifySignature(addr common.Address, msg, sig []byte) (bool, error) {
	signer, err := RecoverAddress(msg, sig)
	if err != nil {
		return false, err
	}
	return signer == addr, nil
}
