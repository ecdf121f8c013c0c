package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"hmchain/crypto"
)

func runGenerateKey(s *session, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("generate-key", flag.ContinueOnError)
	fs.SetOutput(stderr)
	force := fs.Bool("force", false, "overwrite an existing keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, err := os.Stat(s.keystore); err == nil && !*force {
		return failf(stderr, "keystore %s already exists; pass --force to replace it", s.keystore)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return failf(stderr, "%v", err)
	}
	pass, err := s.pass.Get()
	if err != nil {
		return failf(stderr, "%v", err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return failf(stderr, "generate key: %v", err)
	}
	if err := crypto.SaveToKeystore(s.keystore, key, pass); err != nil {
		return failf(stderr, "save keystore: %v", err)
	}
	fmt.Fprintf(stdout, "Generated new key and saved to %s\n", s.keystore)
	fmt.Fprintf(stdout, "Address: %s\n", key.PubKey().Address().String())
	return 0
}

func runAddress(s *session, args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		return failf(stderr, "address takes no arguments")
	}
	key, err := s.loadKey()
	if err != nil {
		return failf(stderr, "%v", err)
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}
