package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// --------------------------------------------------------------------------
// EIP-712-style type hashes (pre-computed keccak256 of the canonical type
// strings) used to sign delegated-key actions against the exchange
// connector's venue.
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// AgentAuth(address address,uint256 timestamp,uint256 nonce)
	agentAuthTypeHash = ethcrypto.Keccak256(
		[]byte("AgentAuth(address address,uint256 timestamp,uint256 nonce)"),
	)

	// Action(string symbol,uint8 side,uint8 orderType,uint256 price,uint256 size,bool reduceOnly,string clientOrderId,uint256 nonce,uint256 expiration)
	actionTypeHash = ethcrypto.Keccak256(
		[]byte("Action(string symbol,uint8 side,uint8 orderType,uint256 price,uint256 size,bool reduceOnly,string clientOrderId,uint256 nonce,uint256 expiration)"),
	)
)

// ActionPayload is the set of fields a place/cancel request against the
// venue must carry signed by the delegated key, including a monotonic
// nonce. Integer-valued
// price/size are passed as fixed-point strings to preserve precision across
// the EIP-712 encoding.
type ActionPayload struct {
	Symbol        string
	Side          int    // 0 = buy, 1 = sell
	OrderType     int    // 0 = GTC, 1 = GTD, 2 = FOK, 3 = FAK
	Price         string
	Size          string
	ReduceOnly    bool
	ClientOrderID string
	Nonce         int64
	Expiration    int64
}

// Signer provides delegated-key EIP-712-style signing for the exchange
// connector's authenticated REST calls.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int
	domainSep  []byte            // cached EIP-712 domain separator hash
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key (the
// agent/delegated key, not the user's main wallet) and the target chain ID.
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return newSignerFromKey(pk, chainID), nil
}

// newSignerFromKey builds a Signer around an already-decoded private key.
func newSignerFromKey(pk *ecdsa.PrivateKey, chainID int) *Signer {
	addr := ethcrypto.PubkeyToAddress(pk.PublicKey)

	s := &Signer{
		privateKey: pk,
		address: addr,
		chainID: chainID,
	}
	s.domainSep = s.buildDomainSeparator("HiveAgentDomain", "1", chainID)

	return s
}

// Address returns the Ethereum address derived from the agent's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignConnectorAuth signs an AgentAuth EIP-712 message used to derive a
// session-scoped API key from the venue, binding it to the caller's main wallet address.
func (s *Signer) SignConnectorAuth(mainAddress string, timestamp, nonce int64) (string, error) {
	addr := common.HexToAddress(mainAddress)

	structHash := ethcrypto.Keccak256(
		concatBytes(
			agentAuthTypeHash,
			common.LeftPadBytes(addr.Bytes(), 32),
			bigIntTo32Bytes(big.NewInt(timestamp)),
			bigIntTo32Bytes(big.NewInt(nonce)),
		),
	)

	digest := eip712Hash(s.domainSep, structHash)
	return s.signDigest(digest)
}

// SignAction signs an Action EIP-712 struct used to place/cancel orders
// against the venue. It returns a hex-encoded 65-byte signature.
func (s *Signer) SignAction(a ActionPayload) (string, error) {
	structHash, err := actionStructHash(a)
	if err != nil {
		return "", err
	}

	digest := eip712Hash(s.domainSep, structHash)
	return s.signDigest(digest)
}

// --------------------------------------------------------------------------
// Personal-sign verification for the control plane's wallet-auth envelope.
// --------------------------------------------------------------------------

// VerifyPersonalSign recovers the signer address from a go-ethereum-style
// personal_sign signature over message and reports whether it matches
// wantAddress (case-insensitive).
func VerifyPersonalSign(message []byte, signatureHex, wantAddress string) (bool, error) {
	sig, err := decodeSignature(signatureHex)
	if err != nil {
		return false, err
	}

	digest := personalSignHash(message)

	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return false, fmt.Errorf("crypto/signer: recover signer: %w", err)
	}
	recovered := ethcrypto.PubkeyToAddress(*pub)

	return strings.EqualFold(recovered.Hex(), wantAddress), nil
}

// personalSignHash applies the Ethereum "personal_sign" prefix before
// hashing, per EIP-191.
func personalSignHash(message []byte) []byte {
	prefixed := append([]byte("\x19Ethereum Signed Message:\n"+strconv.Itoa(len(message))), message...)
	return ethcrypto.Keccak256(prefixed)
}

// decodeSignature parses a 0x-prefixed 65-byte hex signature and normalizes
// the recovery byte to {0,1} as required by ethcrypto.SigToPub.
func decodeSignature(signatureHex string) ([]byte, error) {
	h := strings.TrimPrefix(signatureHex, "0x")
	sig, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("crypto/signer: signature must be 65 bytes, got %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	return sig, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func (s *Signer) buildDomainSeparator(name, version string, chainID int) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(int64(chainID))),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// actionStructHash encodes and hashes an ActionPayload according to EIP-712.
func actionStructHash(a ActionPayload) ([]byte, error) {
	price, ok := new(big.Int).SetString(a.Price, 10)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: invalid price %q", a.Price)
	}
	size, ok := new(big.Int).SetString(a.Size, 10)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: invalid size %q", a.Size)
	}

	reduceOnly := big.NewInt(0)
	if a.ReduceOnly {
		reduceOnly = big.NewInt(1)
	}

	return ethcrypto.Keccak256(
		concatBytes(
			actionTypeHash,
			ethcrypto.Keccak256([]byte(a.Symbol)),
			bigIntTo32Bytes(big.NewInt(int64(a.Side))),
			bigIntTo32Bytes(big.NewInt(int64(a.OrderType))),
			bigIntTo32Bytes(price),
			bigIntTo32Bytes(size),
			bigIntTo32Bytes(reduceOnly),
			ethcrypto.Keccak256([]byte(a.ClientOrderID)),
			bigIntTo32Bytes(big.NewInt(a.Nonce)),
			bigIntTo32Bytes(big.NewInt(a.Expiration)),
		),
	), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
