// ./main.go
package main

import (
	"github.com/xkilldash9x/autoprompt-cli/cmd"
)

func main() {
	cmd.Execute()
}
