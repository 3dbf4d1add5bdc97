// ./main.go
package main

import (
	"github.com/xkilldash9x/scalpel-recorder/cmd"
)

func main() {
	cmd.Execute()
}
