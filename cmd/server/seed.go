package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"pdf-ingest-go/internal/service"
	"pdf-ingest-go/pkg/log"
	"strings"

	"github.com/spf13/cobra"
)

var (
	seedDir  string
	seedUser string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "通过标准上传流程导入目录下的 PDF",
	RunE: func(cmd *cobra.Command, args []string) error {
		if seedUser == "" {
			return fmt.Errorf("--user is required")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		imported := seedFiles(ctx, seedDir, seedUser, a.uploads)
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d file(s)\n", imported)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedDir, "dir", "initfile", "待导入的目录")
	seedCmd.Flags().StringVar(&seedUser, "user", "", "文件归属的用户 ID")
}

// seedFiles 扫描目录下的 PDF 并逐个上传，单个文件失败不影响其余文件。
func seedFiles(ctx context.Context, dir, userID string, uploads service.UploadService) int {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("seedFiles: 目录 '%s' 不存在或不可用，跳过导入", dir)
		return 0
	}

	imported := 0
	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".pdf") {
			return nil
		}
		if info.Size() == 0 {
			log.Infof("seedFiles: 空文件跳过: %s", path)
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			log.Warnf("seedFiles: 打开文件失败: %s, err=%v", path, err)
			return nil
		}
		defer f.Close()

		res, err := uploads.Upload(ctx, userID, info.Name(), info.Size(), f)
		if err != nil {
			log.Warnf("seedFiles: 上传失败: %s, err=%v", path, err)
			return nil
		}
		imported++
		log.Infof("seedFiles: 导入完成: %s (key=%s)", info.Name(), res.Key)
		return nil
	})
	if walkErr != nil {
		log.Warnf("seedFiles: 遍历目录发生错误: %v", walkErr)
	}
	return imported
}
