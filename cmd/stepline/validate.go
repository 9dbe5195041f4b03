package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stepline/stepline/internal/validation"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definition.json> [more...]",
		Short: "Validate workflow definition files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			validator, err := validation.NewDefinitionValidator()
			if err != nil {
				return err
			}

			failures := 0
			for _, path := range args {
				raw, err := os.ReadFile(path)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
					failures++
					continue
				}
				def, err := validator.Parse(raw)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
					failures++
					continue
				}
				fmt.Printf("%s: ok (%s, %d steps)\n", path, def.Name, len(def.Steps))
			}

			if failures > 0 {
				return fmt.Errorf("%d of %d definitions invalid", failures, len(args))
			}
			return nil
		},
	}
}
