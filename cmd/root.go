// Package cmd implements the caselight command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "caselight",
	Short: "Caselight - 基于历史客服案例的智能客服助手",
	Long: `Caselight 检索历史客服工单作为上下文,通过大语言模型生成客服回答。

运行 caselight serve 启动 HTTP 服务,caselight import 导入历史工单。`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
