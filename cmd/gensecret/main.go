package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

const defaultSecretBytes = 32

func main() {
	fs := pflag.NewFlagSet("gensecret", pflag.ExitOnError)
	n := fs.IntP("bytes", "n", defaultSecretBytes, "Random bytes in secret, printed hex encoded")
	_ = fs.Parse(os.Args[1:])

	if *n <= 0 {
		fmt.Fprintln(os.Stderr, "bytes count must be positive")
		os.Exit(2)
	}

	b := make([]byte, *n)
	if _, err := rand.Read(b); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(hex.EncodeToString(b))
}
