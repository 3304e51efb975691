package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

// Signer signs API requests with a secp256k1 key. The signer's address is
// the caller identity the engine sees.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner wraps an existing private key.
func NewSigner(pk *ecdsa.PrivateKey) *Signer {
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}
}

// NewSignerFromHex creates a Signer from a hex-encoded private key.
func NewSignerFromHex(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return NewSigner(pk), nil
}

// Address returns the address derived from the signer's key.
func (s *Signer) Address() common.Address { return s.address }

// Identity returns the caller instance id of the signer.
func (s *Signer) Identity() domain.InstanceID { return IdentityOf(s.address) }

// SignRequest signs a request and returns the 65-byte signature as 0x hex.
func (s *Signer) SignRequest(method, path string, body []byte, unixTS int64) (string, error) {
	sig, err := ethcrypto.Sign(RequestDigest(method, path, body, unixTS), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// personal_sign convention: v in {27,28}.
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// IdentityOf maps an address to a caller instance id (lower-case hex).
func IdentityOf(addr common.Address) domain.InstanceID {
	return domain.InstanceID(strings.ToLower(addr.Hex()))
}

// RequestDigest returns the EIP-191 personal message hash of
//
//	METHOD \n PATH \n TIMESTAMP \n keccak256(body)
func RequestDigest(method, path string, body []byte, unixTS int64) []byte {
	msg := strings.ToUpper(method) + "\n" + path + "\n" +
		strconv.FormatInt(unixTS, 10) + "\n" +
		hex.EncodeToString(ethcrypto.Keccak256(body))
	return ethcrypto.Keccak256([]byte("\x19Ethereum Signed Message:\n" + strconv.Itoa(len(msg)) + msg))
}

// RecoverRequestSigner returns the address that produced sigHex over the
// request. It fails with domain.ErrBadSignature for malformed signatures.
func RecoverRequestSigner(method, path string, body []byte, unixTS int64, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: malformed signature: %w", domain.ErrBadSignature)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, fmt.Errorf("crypto/signer: invalid recovery id: %w", domain.ErrBadSignature)
	}
	pub, err := ethcrypto.SigToPub(RequestDigest(method, path, body, unixTS), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %v: %w", err, domain.ErrBadSignature)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
