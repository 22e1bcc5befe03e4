package main

import (
	"fmt"
	"os"
	_ "time/tzdata"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "crmjobs: %v\n", err)
		os.Exit(1)
	}
}
