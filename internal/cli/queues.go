package cli

import (
	"slices"
	"strconv"

	"github.com/spf13/cobra"
)

// moduleInfo — строка вывода команды modules.
type moduleInfo struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// queueInfo — строка вывода команды queues.
type queueInfo struct {
	Module     string `json:"module"`
	Queue      string `json:"queue"`
	BindingKey string `json:"binding_key"`
	Durable    bool   `json:"durable"`
	Cron       string `json:"cron,omitempty"`
	Target     string `json:"target"`
}

// NewModulesCmd создаёт команду modules.
func NewModulesCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List registered dataset modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}

			var (
				infos []moduleInfo
				rows  [][]string
			)
			for _, name := range env.catalog().Names() {
				enabled := slices.Contains(env.Config.Modules.Enabled, name)
				infos = append(infos, moduleInfo{Name: name, Enabled: enabled})
				rows = append(rows, []string{name, strconv.FormatBool(enabled)})
			}

			return outputFn().Print([]string{"MODULE", "ENABLED"}, rows, infos)
		},
	}
}

// NewQueuesCmd создаёт команду queues.
func NewQueuesCmd(envFn func() (*Env, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "List queues of enabled modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := envFn()
			if err != nil {
				return err
			}
			registry, err := env.Registry()
			if err != nil {
				return err
			}

			bindings := registry.Bindings()
			infos := make([]queueInfo, len(bindings))
			rows := make([][]string, len(bindings))
			for i, b := range bindings {
				infos[i] = queueInfo{
					Module:     b.Definition,
					Queue:      b.FullName,
					BindingKey: b.BindingKey,
					Durable:    b.Queue.Options.Durable,
					Cron:       b.Queue.Options.Cron,
					Target:     b.Target(),
				}
				rows[i] = []string{b.FullName, b.BindingKey, strconv.FormatBool(b.Queue.Options.Durable), b.Queue.Options.Cron, b.Target()}
			}

			return outputFn().Print([]string{"QUEUE", "BINDING KEY", "DURABLE", "CRON", "TARGET"}, rows, infos)
		},
	}
}
