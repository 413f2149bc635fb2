package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/screenpop/internal/model"
	"github.com/sells-group/screenpop/internal/phone"
)

var extensionsCmd = &cobra.Command{
	Use:   "extensions",
	Short: "Manage internal extension assignments",
}

var extensionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List assigned extensions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		list, err := st.ListExtensions(ctx)
		if err != nil {
			return eris.Wrap(err, "extensions list")
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No extensions assigned.")
			return nil
		}
		formatExtensions(os.Stdout, list)
		return nil
	},
}

var extensionsAssignCmd = &cobra.Command{
	Use:   "assign <extension> <first-name> <last-name>",
	Short: "Assign an extension to a technician",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		member, _ := cmd.Flags().GetString("member")
		a := model.ExtensionAssignment{
			Extension:        args[0],
			FirstName:        args[1],
			LastName:         args[2],
			MemberIdentifier: member,
		}
		if err := validateAssignment(a); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.AssignExtension(ctx, a); err != nil {
			return eris.Wrap(err, "extensions assign")
		}
		zap.L().Info("extension assigned",
			zap.String("extension", a.Extension),
			zap.String("first_name", a.FirstName),
			zap.String("last_name", a.LastName),
		)
		return nil
	},
}

var extensionsRemoveCmd = &cobra.Command{
	Use:   "remove <extension>",
	Short: "Remove an extension assignment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.RemoveExtension(ctx, args[0]); err != nil {
			return eris.Wrap(err, "extensions remove")
		}
		zap.L().Info("extension removed", zap.String("extension", args[0]))
		return nil
	},
}

var extensionsImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Assign every extension listed in a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open assignments file")
		}
		defer f.Close() //nolint:errcheck

		list, err := loadAssignments(f)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.AssignExtensions(ctx, list); err != nil {
			return eris.Wrapf(err, "import %s", args[0])
		}
		zap.L().Info("extensions imported", zap.Int("count", len(list)), zap.String("file", args[0]))
		return nil
	},
}

func init() {
	extensionsAssignCmd.Flags().String("member", "", "ConnectWise member identifier, if known")

	extensionsCmd.AddCommand(extensionsListCmd)
	extensionsCmd.AddCommand(extensionsAssignCmd)
	extensionsCmd.AddCommand(extensionsRemoveCmd)
	extensionsCmd.AddCommand(extensionsImportCmd)
	rootCmd.AddCommand(extensionsCmd)
}

// assignmentFile is the YAML layout read by extensions import.
type assignmentFile struct {
	Extensions []model.ExtensionAssignment `yaml:"extensions"`
}

// loadAssignments decodes and validates an assignment file. A duplicated
// extension is rejected rather than resolved by order.
func loadAssignments(r io.Reader) ([]model.ExtensionAssignment, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f assignmentFile
	if err := dec.Decode(&f); err != nil {
		if eris.Is(err, io.EOF) {
			return nil, eris.New("assignments file is empty")
		}
		return nil, eris.Wrap(err, "decode assignments file")
	}

	seen := make(map[string]bool, len(f.Extensions))
	for i, a := range f.Extensions {
		if err := validateAssignment(a); err != nil {
			return nil, eris.Wrapf(err, "entry %d", i+1)
		}
		if seen[a.Extension] {
			return nil, eris.Errorf("entry %d: extension %s listed twice", i+1, a.Extension)
		}
		seen[a.Extension] = true
	}
	return f.Extensions, nil
}

func validateAssignment(a model.ExtensionAssignment) error {
	if !phone.IsExtension(a.Extension) {
		return eris.Errorf("extension %q must be 4 digits", a.Extension)
	}
	if a.FirstName == "" || a.LastName == "" {
		return eris.Errorf("extension %s needs a first and last name", a.Extension)
	}
	return nil
}

func formatExtensions(w io.Writer, list []model.ExtensionAssignment) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EXTENSION\tNAME\tMEMBER\tUPDATED")
	for _, a := range list {
		member := a.MemberIdentifier
		if member == "" {
			member = "-"
		}
		fmt.Fprintf(tw, "%s\t%s %s\t%s\t%s\n",
			a.Extension, a.FirstName, a.LastName, member,
			a.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	tw.Flush() //nolint:errcheck
}
