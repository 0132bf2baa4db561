package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	provisionWorkshop string
	provisionPrefix   string
	provisionFrom     int
	provisionTo       int
	provisionWidth    int
)

var stickersCmd = &cobra.Command{
	Use:   "stickers",
	Short: "Manage the sticker inventory",
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Load a numbered batch of stickers into a workshop's pool",
	Long: `Provision creates the stickers PREFIX+FROM .. PREFIX+TO, zero-padded to
WIDTH digits, as Disponible for the workshop. The batch is rejected whole if
any number already exists.`,
	Example: "  svt stickers provision --workshop taller-centro --prefix A --from 1 --to 500 --width 6",
	RunE: func(cmd *cobra.Command, args []string) error {
		numbers, err := sequence(provisionPrefix, provisionFrom, provisionTo, provisionWidth)
		if err != nil {
			return err
		}

		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		stickers, err := a.svc.Registry.Provision(cmd.Context(), provisionWorkshop, numbers)
		if err != nil {
			return err
		}
		a.log.WithField("workshop", provisionWorkshop).
			Infof("provisioned %d stickers (%s .. %s)", len(stickers), stickers[0].Number, stickers[len(stickers)-1].Number)
		return nil
	},
}

// sequence renders prefix+n for n in [from, to], padding n to width digits.
func sequence(prefix string, from, to, width int) ([]string, error) {
	if from < 0 || to < from {
		return nil, errors.Errorf("invalid range %d..%d", from, to)
	}
	numbers := make([]string, 0, to-from+1)
	for n := from; n <= to; n++ {
		numbers = append(numbers, fmt.Sprintf("%s%0*d", prefix, width, n))
	}
	return numbers, nil
}

func init() {
	provisionCmd.Flags().StringVar(&provisionWorkshop, "workshop", "", "workshop that owns the stickers")
	provisionCmd.Flags().StringVar(&provisionPrefix, "prefix", "", "prefix of every sticker number")
	provisionCmd.Flags().IntVar(&provisionFrom, "from", 1, "first serial number")
	provisionCmd.Flags().IntVar(&provisionTo, "to", 0, "last serial number")
	provisionCmd.Flags().IntVar(&provisionWidth, "width", 6, "zero-padded width of the serial part")
	_ = provisionCmd.MarkFlagRequired("workshop")
	_ = provisionCmd.MarkFlagRequired("to")
	stickersCmd.AddCommand(provisionCmd)
}
