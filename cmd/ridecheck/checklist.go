package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/ent0n29/ridecheck/internal/inspection"
)

func checklistCommand() *cli.Command {
	return &cli.Command{
		Name:  "checklist",
		Usage: "Print the inspection checklist in walk order",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Usage:   "checklist YAML/JSON file (built-in list when empty)",
				EnvVars: []string{"CHECKLIST_FILE"},
			},
			&cli.BoolFlag{
				Name:  "flat",
				Usage: "print numbered checkpoints instead of the tree",
			},
		},
		Action: checklistAction,
	}
}

func checklistAction(c *cli.Context) error {
	tree, err := inspection.LoadTree(c.String("file"))
	if err != nil {
		return err
	}
	out := c.App.Writer

	if c.Bool("flat") {
		seq := tree.Flatten()
		for i, cp := range seq {
			if _, err := fmt.Fprintf(out, "%d/%d\t%s\t%s\t%s\n", i+1, len(seq), cp.Section, cp.Part, cp.Question); err != nil {
				return err
			}
		}
		return nil
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(tree); err != nil {
		return err
	}
	return enc.Close()
}
