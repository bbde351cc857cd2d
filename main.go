package main

import (
	"fmt"

	"github.com/agentia/replyflow/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
