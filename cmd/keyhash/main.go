// Command keyhash prints an Argon2id hash of an API key for use in API_KEYS
// ("<hash>:<role>"), so the plain key never sits in the environment.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	httpserver "github.com/zeroatsteel/zero-agent/internal/adapter/httpserver"
)

func main() {
	key := ""
	if len(os.Args) > 1 {
		key = os.Args[1]
	} else {
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		key = line
	}
	key = strings.TrimSpace(key)
	if key == "" {
		fmt.Fprintln(os.Stderr, "usage: keyhash <api-key>   (or pipe the key on stdin)")
		os.Exit(2)
	}
	hash, err := httpserver.HashPassword(key, httpserver.DefaultArgon2Params)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hash failed:", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
