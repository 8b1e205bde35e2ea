package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hatlonely/resx/codec"
	"github.com/hatlonely/resx/controller"
	"github.com/hatlonely/resx/store"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string
	var a *app

	rootCmd := &cobra.Command{
		Use:   "resx",
		Short: "resx - resource store and query tool",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			config, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			a, err = newApp(cmd.Context(), config)
			return err
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "resx.yaml", "config file (yaml, toml, json or ini)")

	getApp := func() *app { return a }
	rootCmd.AddCommand(
		newLoadCmd(getApp),
		newQueryCmd(getApp),
		newGetCmd(getApp),
		newExecCmd(getApp),
		newResetCmd(getApp),
		newTablesCmd(getApp),
		newWatchCmd(getApp),
	)

	// 命令出错时 PersistentPostRunE 不会执行，在每个命令的 RunE 里关闭
	for _, sub := range rootCmd.Commands() {
		run := sub.RunE
		sub.RunE = func(cmd *cobra.Command, args []string) error {
			err := run(cmd, args)
			if a != nil {
				if cerr := a.Close(); err == nil {
					err = cerr
				}
				a = nil
			}
			return err
		}
	}
	return rootCmd
}

func printResult(cmd *cobra.Command, value any) error {
	text, err := codec.Encode(value)
	if err != nil {
		return errors.WithMessage(err, "encode result failed")
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
	return err
}

// parsePayload 解析编码文本形式的 payload，为空时返回 nil
func parsePayload(text string) (map[string]any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	value, err := codec.Decode(text)
	if err != nil {
		return nil, errors.WithMessage(err, "decode payload failed")
	}
	payload, ok := value.(map[string]any)
	if !ok {
		return nil, errors.Errorf("payload must be an object, got %T", value)
	}
	return payload, nil
}

// parseWhere 解析 field__op=value 形式的条件，value 先按编码文本解析，失败时作为字符串
func parseWhere(items []string) (map[string]any, error) {
	if len(items) == 0 {
		return nil, nil
	}
	where := make(map[string]any, len(items))
	for _, item := range items {
		key, text, ok := strings.Cut(item, "=")
		if !ok || key == "" {
			return nil, errors.Errorf("invalid condition %q, expect field__op=value", item)
		}
		value, err := codec.Decode(text)
		if err != nil {
			value = text
		}
		where[key] = value
	}
	return where, nil
}

func newLoadCmd(getApp func() *app) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "load [file...]",
		Short: "Load fixture files into the store",
		Long:  "Load fixture files into the store. Without arguments the fixtures file from the config is loaded.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			files := args
			if len(files) == 0 {
				if a.config.Fixtures == "" {
					return errors.New("no fixture file given and no fixtures configured")
				}
				files = []string{a.config.Fixtures}
			}

			if reset {
				if err := a.store.Reset(cmd.Context()); err != nil {
					return err
				}
			}
			for _, file := range files {
				if err := a.store.LoadFile(cmd.Context(), file); err != nil {
					return err
				}
			}
			return printResult(cmd, map[string]any{"loaded": len(files), "tables": a.store.Tables()})
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "reset the store before loading")
	return cmd
}

func newQueryCmd(getApp func() *app) *cobra.Command {
	var payloadText string
	var where []string
	var sortKeys []string
	var include []string
	var exclude []string
	var offset int
	var limit int
	var total bool

	cmd := &cobra.Command{
		Use:   "query <resource>",
		Short: "Query records of a resource",
		Example: `  resx query users --where age__gte=21 --sort age- --limit 10
  resx query users --payload '{"query": {"name__iprefix": "a"}, "total": true}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := getApp().controller(args[0])
			if err != nil {
				return err
			}

			payload, err := parsePayload(payloadText)
			if err != nil {
				return err
			}
			if payload == nil {
				payload = map[string]any{}
			}

			conditions, err := parseWhere(where)
			if err != nil {
				return err
			}
			if conditions != nil {
				payload["query"] = conditions
			}
			if len(sortKeys) > 0 {
				payload["sort"] = sortKeys
			}
			if len(include) > 0 {
				payload["include"] = include
			}
			if len(exclude) > 0 {
				payload["exclude"] = exclude
			}
			if cmd.Flags().Changed("offset") {
				payload["offset"] = offset
			}
			if cmd.Flags().Changed("limit") {
				payload["limit"] = limit
			}
			if total {
				payload["total"] = true
			}

			result, err := c.Query(cmd.Context(), payload)
			if err != nil {
				return err
			}
			return printResult(cmd, result)
		},
	}
	cmd.Flags().StringVarP(&payloadText, "payload", "p", "", "request payload")
	cmd.Flags().StringArrayVarP(&where, "where", "w", nil, "filter condition field__op=value, repeatable")
	cmd.Flags().StringSliceVarP(&sortKeys, "sort", "s", nil, "sort keys, suffix - for descending")
	cmd.Flags().StringSliceVar(&include, "include", nil, "deferred fields to include")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "fields to exclude")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of records to skip")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records to return")
	cmd.Flags().BoolVar(&total, "total", false, "only return the number of matching records")
	return cmd
}

func newGetCmd(getApp func() *app) *cobra.Command {
	var include []string
	var exclude []string

	cmd := &cobra.Command{
		Use:   "get <resource> <id>",
		Short: "Get a record by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := getApp().controller(args[0])
			if err != nil {
				return err
			}
			subject, err := c.Acquire(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			if subject == nil {
				return errors.Errorf("%s %s not found", args[0], args[1])
			}

			result, err := c.Get(cmd.Context(), subject, map[string]any{"include": include, "exclude": exclude})
			if err != nil {
				return err
			}
			return printResult(cmd, result)
		},
	}
	cmd.Flags().StringSliceVar(&include, "include", nil, "deferred fields to include")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "fields to exclude")
	return cmd
}

func newExecCmd(getApp func() *app) *cobra.Command {
	var payloadText string

	cmd := &cobra.Command{
		Use:   "exec <resource> <operation> [id]",
		Short: "Run a controller operation",
		Long: `Run a controller operation: query, get, create, put, update or delete.
get, update and delete require an id of an existing record; put inserts when the id is not found.`,
		Example: `  resx exec users create --payload '{"name": "alice"}'
  resx exec users update 1 --payload '{"name": "bob"}'
  resx exec users delete 1`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := getApp().controller(args[0])
			if err != nil {
				return err
			}
			operation := args[1]

			payload, err := parsePayload(payloadText)
			if err != nil {
				return err
			}

			var subject store.Record
			if len(args) == 3 {
				subject, err = c.Acquire(ctx, args[2])
				if err != nil {
					return err
				}
			}
			switch operation {
			case controller.OperationGet, controller.OperationUpdate, controller.OperationDelete:
				if subject == nil {
					return errors.Errorf("%s requires an existing %s id", operation, args[0])
				}
			}

			result, err := c.Handle(ctx, operation, subject, payload)
			if err != nil {
				return err
			}
			return printResult(cmd, result)
		},
	}
	cmd.Flags().StringVarP(&payloadText, "payload", "p", "", "request payload")
	return cmd
}

func newResetCmd(getApp func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Drop all tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getApp().store.Reset(cmd.Context())
		},
	}
}

func newTablesCmd(getApp func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables in the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, table := range getApp().store.Tables() {
				fmt.Fprintln(cmd.OutOrStdout(), table)
			}
			return nil
		},
	}
}

func newWatchCmd(getApp func() *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reload fixtures whenever the fixture file changes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := getApp()
			if file == "" {
				file = a.config.Fixtures
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			watcher, err := store.NewFixtureWatcher(a.store, &store.FixtureWatcherOptions{FilePath: file}, a.logger, nil)
			if err != nil {
				return err
			}
			defer watcher.Close()

			if err := watcher.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "watching %s\n", file)

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "fixture file, defaults to the fixtures file from the config")
	return cmd
}
