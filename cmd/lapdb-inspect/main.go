package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lapdb/lapdb/cmd/lapdb-inspect/report"
	"github.com/lapdb/lapdb/cmd/lapdb-inspect/verify"
)

func main() {
	mainCmd := GetCommand()

	reportCmd := report.GetCommand()
	mainCmd.AddCommand(reportCmd)

	verifyCmd := verify.GetCommand()
	mainCmd.AddCommand(verifyCmd)

	if err := mainCmd.Execute(); err != nil {
		fmt.Printf("Error : %+v\n", err)
		os.Exit(1)
	}
}

func GetCommand() *cobra.Command {
	c := &cobra.Command{
		Use:  "lapdb-inspect",
		Long: "lapdb-inspect is a lapdb snapshot file utility",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableNoDescFlag:   true,
			DisableDescriptions: true},
	}

	return c
}
