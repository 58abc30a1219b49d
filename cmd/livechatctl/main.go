// Command livechatctl operates a running live chat service.
package main

import (
	"fmt"
	"os"

	"github.com/dramac/livechat-service/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
