// File: cmd/selectors.go
package cmd

import (
	"fmt"
	"io"
	"os"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-recorder/internal/browser/dom"
	"github.com/xkilldash9x/scalpel-recorder/internal/config"
	"github.com/xkilldash9x/scalpel-recorder/internal/recording"
)

// selectorReport is the output of the selectors command.
type selectorReport struct {
	ElementUUID string   `json:"elementUUID"`
	Selectors   []string `json:"selectors"`
	ElementName string   `json:"elementName"`
	ElementType string   `json:"elementType"`
	// XPath is a positional fallback for tools that cannot evaluate CSS.
	XPath string `json:"xpath"`
}

func newSelectorsCmd(a *app) *cobra.Command {
	var file, id string
	cmd := &cobra.Command{
		Use:   "selectors",
		Short: "Synthesize unique selectors for one element of a saved snapshot",
		Long: `Reads a serialized document in which every element carries an identity attribute
and prints the unique CSS selectors found for the element with the given identity.
Use "-" as the file to read the snapshot from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("failed to open snapshot: %w", err)
				}
				defer f.Close()
				in = f
			}

			report, err := synthesizeReport(a.logger, a.cfg.Selector(), a.cfg.Recorder().IdentifierAttribute, in, id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "snapshot file, or - for stdin")
	cmd.Flags().StringVar(&id, "id", "", "identity of the target element")
	cmd.Flags().String("attr", "", "identity attribute carried by elements in the snapshot")
	cmd.Flags().Int("max-selectors", 0, "maximum selectors kept per element")
	cmd.Flags().Int("descendant-depth", 0, "how deep descendant containment searches")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func synthesizeReport(logger *zap.Logger, cfg config.SelectorConfig, idAttr string, in io.Reader, id string) (*selectorReport, error) {
	snap, err := dom.Parse(in, dom.WithIdentifierAttribute(idAttr))
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	selectors, err := newEngine(logger, cfg).Synthesize(snap, id)
	if err != nil {
		return nil, err
	}
	node, err := snap.FindByIdentifier(id)
	if err != nil {
		return nil, err
	}
	return &selectorReport{
		ElementUUID: id,
		Selectors:   selectors,
		ElementName: recording.ElementName(node),
		ElementType: recording.ElementType(node),
		XPath:       snap.XPath(node),
	}, nil
}
