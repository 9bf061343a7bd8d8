package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func (a *app) imagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Manage the program image database",
	}

	add := &cobra.Command{
		Use:   "add <file>",
		Short: "Validate and store a program image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			name := a.v.GetString("name")
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
			store, err := a.openImages()
			if err != nil {
				return err
			}
			defer store.Close()
			fp, err := store.Put(name, raw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", heading(name), fp)
			return nil
		},
	}
	add.Flags().String("name", "", "image name (default: the file's base name)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, err := checkOutput(a.v.GetString("output"))
			if err != nil {
				return err
			}
			store, err := a.openImages()
			if err != nil {
				return err
			}
			defer store.Close()
			metas, err := store.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, metas)
			}
			for _, m := range metas {
				fmt.Fprintf(out, "%-16s %s %8d bytes crc %5d %4d functions %s\n",
					heading(m.Name), m.Fingerprint.Short(), m.Size, m.CRC, m.Functions,
					dim(m.Stored.Format(time.DateTime)))
			}
			return nil
		},
	}

	list.Flags().StringP("output", "o", "", "output format: text or json")

	export := &cobra.Command{
		Use:   "export <ref> <file>",
		Short: "Write a stored image to a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openImages()
			if err != nil {
				return err
			}
			defer store.Close()
			fp, err := store.Resolve(args[0])
			if err != nil {
				return err
			}
			raw, err := store.Get(fp)
			if err != nil {
				return err
			}
			return os.WriteFile(args[1], raw, 0o644)
		},
	}

	cmd.AddCommand(add, list, export)
	return cmd
}

func (a *app) savesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "saves",
		Short: "Manage save games",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List save games, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openSaves()
			if err != nil {
				return err
			}
			defer store.Close()
			metas, err := store.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range metas {
				fmt.Fprintf(out, "%-16s %-12s t=%-8.1f %s %s\n",
					heading(m.Name), m.Map, m.Time, m.Fingerprint.Short(),
					dim(m.Created.Format(time.DateTime)))
			}
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a save game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openSaves()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Delete(args[0])
		},
	}

	cmd.AddCommand(list, del)
	return cmd
}
