// Package get implements the get subcommand: fetch a single leaf from a
// running state server and print it.
package get

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	cmdUtil "github.com/Jackmin801/torch-state-server/cmd/util"
	"github.com/Jackmin801/torch-state-server/lib/tensor"
	"github.com/Jackmin801/torch-state-server/rpc/client"
	"github.com/Jackmin801/torch-state-server/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const previewElements = 8

var (
	GetCmd = &cobra.Command{
		Use:   "get <path>",
		Short: "Fetch a value from a state server",
		Long:  `Fetch a single scalar or tensor leaf by path (e.g. "model[layers][0][weight]") from a running state server and print it.`,
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)
	cmdUtil.SetupClientFlags(GetCmd)

	key := "type"
	GetCmd.PersistentFlags().String(key, "auto", cmdUtil.WrapString("Transfer type to request: auto, str, int64, float64, bool8, float32, bfloat16, float16, uniform_int8"))
}

func run(cmd *cobra.Command, args []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	c := client.NewStateClient(*cmdUtil.GetClientConfig())
	path := args[0]

	t, err := common.ParseTransferType(viper.GetString("type"))
	if err != nil {
		return err
	}

	switch t {
	case common.TypeString:
		v, err := c.GetString(path)
		if err != nil {
			return err
		}
		fmt.Println(v)
	case common.TypeInt64:
		v, err := c.GetInt64(path)
		if err != nil {
			return err
		}
		fmt.Println(v)
	case common.TypeFloat64:
		v, err := c.GetFloat64(path)
		if err != nil {
			return err
		}
		fmt.Println(v)
	case common.TypeBool:
		v, err := c.GetBool(path)
		if err != nil {
			return err
		}
		fmt.Println(v)
	default:
		// auto and all array types go through the tensor path
		tn, err := c.GetTensor(path, t, nil)
		if err != nil {
			return err
		}
		printTensor(tn)
	}
	return nil
}

// printTensor prints a tensor summary and a short element preview.
func printTensor(t *tensor.Tensor) {
	fmt.Printf("dtype=%s shape=%v stride=%v elements=%d\n", t.DType(), t.Shape(), t.Stride(), t.NumElements())

	data := t.EncodeBytes()
	n := t.NumElements()
	if n > previewElements {
		n = previewElements
	}

	var preview []string
	for i := 0; i < n; i++ {
		preview = append(preview, formatElement(t.DType(), data[i*t.ElementSize():(i+1)*t.ElementSize()]))
	}
	suffix := ""
	if t.NumElements() > previewElements {
		suffix = " ..."
	}
	fmt.Printf("[%s%s]\n", strings.Join(preview, " "), suffix)
}

// formatElement renders one element. Only float32 has a native Go
// representation; the half-precision types are shown as raw hex.
func formatElement(dt tensor.DType, b []byte) string {
	switch dt {
	case tensor.Float32:
		return fmt.Sprintf("%g", math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case tensor.Uint8:
		return fmt.Sprintf("%d", b[0])
	default:
		return fmt.Sprintf("0x%04x", binary.LittleEndian.Uint16(b))
	}
}
