package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/TecharoHQ/ethotp"
	"github.com/TecharoHQ/ethotp/internal"
	libethotp "github.com/TecharoHQ/ethotp/lib"
	"github.com/TecharoHQ/ethotp/lib/challenge"
	"github.com/TecharoHQ/ethotp/lib/challenge/ethereum"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/facebookgo/flagenv"
	_ "github.com/joho/godotenv/autoload"
)

var (
	configFname       = flag.String("config-fname", "", "full path to ethotp config file (defaults to a sensible built-in config)")
	hs512Secret       = flag.String("hs512-secret", "", "secret used to sign attestation tokens in selftest, uses a random ed25519 key if not set")
	message           = flag.String("message", "", "message to sign or recover from")
	privateKeyHex     = flag.String("private-key-hex", "", "hex-encoded secp256k1 private key used by sign and selftest")
	privateKeyHexFile = flag.String("private-key-hex-file", "", "file name containing value for private-key-hex")
	scheme            = flag.String("scheme", "", "signature scheme, defaults to the config file's scheme or "+ethotp.DefaultScheme)
	signature         = flag.String("signature", "", "hex-encoded signature to recover an address from")
	slogLevel         = flag.String("slog-level", "INFO", "logging level (see https://pkg.go.dev/log/slog#hdr-Levels)")
	versionFlag       = flag.Bool("version", false, "print ethotp version")
)

var (
	ErrNoMessage      = errors.New("-message is required")
	ErrNoSignature    = errors.New("-signature is required")
	ErrNoKey          = errors.New("one of -private-key-hex or -private-key-hex-file is required")
	ErrTooManyKeys    = errors.New("do not specify both PRIVATE_KEY_HEX and PRIVATE_KEY_HEX_FILE")
	ErrCantSign       = errors.New("scheme can't sign messages")
	ErrSelfTestFailed = errors.New("selftest failed")
	ErrUnknownCommand = errors.New("unknown command")
	ErrNoCommand      = errors.New("no command given")
)

// signer is implemented by schemes that also carry the client half of the
// protocol.
type signer interface {
	Sign(priv *ecdsa.PrivateKey, message string) (string, error)
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <sign|recover|selftest>\n\n", os.Args[0])
	flag.PrintDefaults()
}

func keyFromHex(value string) (*ecdsa.PrivateKey, error) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "0x")

	priv, err := crypto.HexToECDSA(value)
	if err != nil {
		return nil, fmt.Errorf("supplied key is not a valid secp256k1 private key: %w", err)
	}

	return priv, nil
}

// loadKey returns the configured private key, or nil when none is configured.
func loadKey(keyHex, keyHexFile string) (*ecdsa.PrivateKey, error) {
	switch {
	case keyHex != "" && keyHexFile != "":
		return nil, ErrTooManyKeys
	case keyHex != "":
		priv, err := keyFromHex(keyHex)
		if err != nil {
			return nil, fmt.Errorf("failed to parse and validate PRIVATE_KEY_HEX: %w", err)
		}
		return priv, nil
	case keyHexFile != "":
		hexFile, err := os.ReadFile(keyHexFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read PRIVATE_KEY_HEX_FILE %s: %w", keyHexFile, err)
		}

		priv, err := keyFromHex(string(bytes.TrimSpace(hexFile)))
		if err != nil {
			return nil, fmt.Errorf("failed to parse and validate content of PRIVATE_KEY_HEX_FILE: %w", err)
		}
		return priv, nil
	}

	return nil, nil
}

func schemeOrDefault(name string) (challenge.Recoverer, error) {
	if name == "" {
		name = ethotp.DefaultScheme
	}

	rec, ok := challenge.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w %q, known schemes: %v", challenge.ErrUnknownScheme, name, challenge.Methods())
	}

	return rec, nil
}

func doSign(w io.Writer, schemeName string, priv *ecdsa.PrivateKey, msg string) error {
	if msg == "" {
		return ErrNoMessage
	}

	if priv == nil {
		return ErrNoKey
	}

	rec, err := schemeOrDefault(schemeName)
	if err != nil {
		return err
	}

	s, ok := rec.(signer)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCantSign, schemeName)
	}

	sig, err := s.Sign(priv, msg)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "address: %s\nsignature: %s\n", ethereum.Address(priv), sig)
	return nil
}

func doRecover(w io.Writer, schemeName, msg, sig string) error {
	if msg == "" {
		return ErrNoMessage
	}

	if sig == "" {
		return ErrNoSignature
	}

	rec, err := schemeOrDefault(schemeName)
	if err != nil {
		return err
	}

	addr, err := rec.Recover(msg, sig)
	if err != nil {
		return fmt.Errorf("can't recover address: %w", err)
	}

	fmt.Fprintln(w, addr)
	return nil
}

// doSelfTest runs the whole protocol against a verifier built from the
// configuration: the first response must be accepted and its replay rejected.
func doSelfTest(ctx context.Context, w io.Writer, fname, schemeName string, priv *ecdsa.PrivateKey, secret []byte) error {
	cfg, err := libethotp.LoadConfigOrDefault(fname)
	if err != nil {
		return err
	}

	if schemeName != "" {
		cfg.Scheme = schemeName
	}

	v, err := libethotp.NewFromConfig(ctx, cfg, libethotp.Options{HS512Secret: secret})
	if err != nil {
		return fmt.Errorf("can't construct verifier: %w", err)
	}

	if priv == nil {
		slog.Debug("no private key given, generating a random one")
		priv, err = crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate secp256k1 key: %w", err)
		}
	}

	rec, err := schemeOrDefault(cfg.Scheme)
	if err != nil {
		return err
	}

	s, ok := rec.(signer)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCantSign, cfg.Scheme)
	}

	chall, err := v.IssueChallenge(ctx)
	if err != nil {
		return fmt.Errorf("can't issue challenge: %w", err)
	}

	sig, err := s.Sign(priv, chall)
	if err != nil {
		return err
	}

	p := &challenge.Payload{
		Message:   chall,
		Signature: sig,
		Address:   ethereum.Address(priv),
	}

	token, first := v.ValidateAndSign(ctx, p)
	second := v.Validate(ctx, p)

	fmt.Fprintf(w, "scheme: %s\naddress: %s\nfirst: %t\nreplay: %t\n", cfg.Scheme, p.Address, first, second)

	if !first || second {
		return fmt.Errorf("%w: wanted true then false, got %t then %t", ErrSelfTestFailed, first, second)
	}

	addr, err := v.VerifyToken(token)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSelfTestFailed, err)
	}

	if addr != p.Address {
		return fmt.Errorf("%w: token attests to %s, wanted %s", ErrSelfTestFailed, addr, p.Address)
	}

	fmt.Fprintln(w, "token: ok")
	return nil
}

func run(ctx context.Context, w io.Writer, cmd string) error {
	priv, err := loadKey(*privateKeyHex, *privateKeyHexFile)
	if err != nil {
		return err
	}

	switch cmd {
	case "":
		return ErrNoCommand
	case "sign":
		return doSign(w, *scheme, priv, *message)
	case "recover":
		return doRecover(w, *scheme, *message, *signature)
	case "selftest":
		var secret []byte
		if *hs512Secret != "" {
			secret = []byte(*hs512Secret)
		}
		return doSelfTest(ctx, w, *configFname, *scheme, priv, secret)
	default:
		return fmt.Errorf("%w %q", ErrUnknownCommand, cmd)
	}
}

func main() {
	flag.Usage = usage
	flagenv.Parse()
	flag.Parse()

	if *versionFlag {
		fmt.Println("ethotp", ethotp.Version)
		return
	}

	internal.InitSlog(*slogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, flag.Arg(0)); err != nil {
		if errors.Is(err, ErrNoCommand) || errors.Is(err, ErrUnknownCommand) {
			flag.Usage()
		}
		log.Fatal(err)
	}
}
