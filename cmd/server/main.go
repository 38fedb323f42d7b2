package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wfunc/retro-relay/internal/api"
	"github.com/wfunc/retro-relay/internal/blobstore"
	"github.com/wfunc/retro-relay/internal/config"
	"github.com/wfunc/retro-relay/internal/database"
	apperrors "github.com/wfunc/retro-relay/internal/errors"
	"github.com/wfunc/retro-relay/internal/ledsign"
	"github.com/wfunc/retro-relay/internal/logger"
	"github.com/wfunc/retro-relay/internal/websocket"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 接力服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	blobs    *blobstore.Store
	hub      *websocket.Hub
	notifier *ledsign.Notifier
	router   *api.Router
	httpSrv  *http.Server

	// 关闭控制
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	// 命令行参数
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
	)

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Get()

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	// 设置系统参数
	setupSystem(&cfg.System)

	// 打印启动信息
	printStartInfo(cfg)

	server := NewServer(cfg)

	if err := server.Start(); err != nil {
		logger.Fatal("服务器启动失败", zap.Error(err))
	}

	server.WaitForShutdown()

	if err := server.Shutdown(); err != nil {
		logger.Error("服务器关闭失败", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("服务器已安全关闭")
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:    cfg,
		logger: logger.GetLogger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("正在启动接力服务器...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
	)

	if err := s.initComponents(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrUnknown, "初始化组件失败")
	}

	if err := s.startServices(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrUnknown, "启动服务失败")
	}

	// 监听配置变化
	config.Watch(func(newCfg *config.Config) {
		s.logger.Info("配置已更新，正在重新加载...")
		s.reloadConfig(newCfg)
	})

	s.logger.Info("服务器启动成功",
		zap.String("http", fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)),
		zap.Bool("ledsign", s.notifier.Enabled()),
	)

	return nil
}

// initComponents 初始化组件
func (s *Server) initComponents() error {
	s.logger.Info("初始化组件...")

	if err := s.initDatabase(); err != nil {
		return err
	}

	if err := s.initBlobStore(); err != nil {
		return err
	}

	// 事件中心，日志级别可按模块单独配置
	s.hub = websocket.NewHub(&s.cfg.WebSocket, logger.GetModuleLogger("websocket"))

	// 灯牌，连不上不阻塞启动
	s.notifier = ledsign.NewNotifier(&s.cfg.Led, logger.GetModuleLogger("ledsign"))
	if err := s.notifier.Start(); err != nil {
		s.logger.Warn("灯牌启动失败，继续无灯牌运行", zap.Error(err))
	}

	// HTTP路由
	setGinMode(s.cfg.Server.Mode)
	s.router = api.NewRouter(database.GetDB(), s.blobs, s.hub, s.notifier, s.cfg, s.logger)

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      s.router.GetEngine(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.logger.Info("所有组件初始化完成")
	return nil
}

// initDatabase 初始化数据库
func (s *Server) initDatabase() error {
	s.logger.Info("初始化数据库...")

	if err := database.Init(&s.cfg.Database); err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "初始化数据库连接失败")
	}

	if s.cfg.Database.AutoMigrate {
		s.logger.Info("执行数据库自动迁移...")
		if err := database.AutoMigrate(); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}

	if !database.IsConnected() {
		return apperrors.New(apperrors.ErrDatabaseConnect, "数据库连接检查失败")
	}

	s.logger.Info("数据库初始化完成")
	return nil
}

// initBlobStore 初始化存档库
func (s *Server) initBlobStore() error {
	s.logger.Info("初始化存档库...", zap.String("path", s.cfg.BlobStore.Path))

	blobs, err := blobstore.Open(s.cfg.BlobStore.Path, s.cfg.BlobStore.OpenTimeout)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrBlobStoreOpen, "打开存档库失败")
	}
	s.blobs = blobs

	return nil
}

// startServices 启动服务
func (s *Server) startServices() error {
	s.logger.Info("启动服务...")

	// 事件分发循环
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(s.ctx)
	}()

	// HTTP服务器
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP服务器异常退出", zap.Error(err))
			s.cancel()
		}
	}()

	// 审计日志清理
	s.wg.Add(1)
	go s.maintenanceLoop()

	s.logger.Info("所有服务启动完成")
	return nil
}

// maintenanceLoop 周期性清理过期审计日志
func (s *Server) maintenanceLoop() {
	defer s.wg.Done()

	retentionDays := s.cfg.System.AuditRetentionDays
	if retentionDays <= 0 {
		s.logger.Info("审计日志清理未启用")
		return
	}
	retention := time.Duration(retentionDays) * 24 * time.Hour

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.router.Services().Audit.Cleanup(s.ctx, retention)
			if err != nil {
				s.logger.Error("审计日志清理失败", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Info("审计日志清理完成", zap.Int64("removed", removed))
			}
		}
	}
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	select {
	case sig := <-sigCh:
		s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
	case <-s.ctx.Done():
		s.logger.Info("内部退出")
	}
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 停止接收新请求，等待在途请求完成
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP服务器关闭超时", zap.Error(err))
		}
	}

	// 取消主上下文，事件中心断开所有连接
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("所有服务已正常关闭")
	case <-shutdownCtx.Done():
		s.logger.Warn("关闭超时，强制退出")
		return apperrors.New(apperrors.ErrTimeout, "关闭超时")
	}

	if err := s.closeComponents(); err != nil {
		s.logger.Error("关闭组件失败", zap.Error(err))
		return err
	}

	if err := logger.Sync(); err != nil {
		fmt.Printf("同步日志失败: %v\n", err)
	}

	return nil
}

// closeComponents 关闭组件
func (s *Server) closeComponents() error {
	s.logger.Info("关闭组件...")

	if err := s.notifier.Stop(); err != nil {
		s.logger.Error("关闭灯牌失败", zap.Error(err))
	}

	if s.blobs != nil {
		if err := s.blobs.Close(); err != nil {
			s.logger.Error("关闭存档库失败", zap.Error(err))
		}
	}

	if err := database.Close(); err != nil {
		s.logger.Error("关闭数据库失败", zap.Error(err))
	}

	s.logger.Info("所有组件已关闭")
	return nil
}

// reloadConfig 重新加载配置
func (s *Server) reloadConfig(newCfg *config.Config) {
	s.cfg = newCfg

	// 端口、数据库等核心配置需要重启才能生效
	s.logger.Info("配置重新加载完成")
}

// setGinMode 把运行模式映射到gin
func setGinMode(mode string) {
	switch mode {
	case "production", "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}
}

// setupSystem 设置系统参数
func setupSystem(cfg *config.SystemConfig) {
	// 设置时区
	if cfg.Timezone != "" {
		if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
			time.Local = loc
		}
	}

	// 设置最大处理器数
	if cfg.MaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcs)
	}

	// 设置文件描述符限制（Unix系统）
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err == nil {
		rLimit.Cur = rLimit.Max
		syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	}
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("街机接力服务器\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("街机接力服务器")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  retro-relay-server [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  RETRO_RELAY_SERVER_PORT    HTTP监听端口")
	fmt.Println("  RETRO_RELAY_DATABASE_DSN   数据库连接串")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  retro-relay-server -config=/path/to/config.yaml")
	fmt.Println("  retro-relay-server -version")
}

// printStartInfo 打印启动信息
func printStartInfo(cfg *config.Config) {
	banner := `
╔══════════════════════════════════════════════════════╗
║                                                      ║
║   ____      _                ____      _             ║
║  |  _ \ ___| |_ _ __ ___    |  _ \ ___| | __ _ _   _ ║
║  | |_) / _ \ __| '__/ _ \   | |_) / _ \ |/ _` + "`" + ` | | | |║
║  |  _ <  __/ |_| | | (_) |  |  _ <  __/ | (_| | |_| |║
║  |_| \_\___|\__|_|  \___/   |_| \_\___|_|\__,_|\__, |║
║                                                |___/ ║
║                 街机接力时间线服务器                 ║
║                                                      ║
╚══════════════════════════════════════════════════════╝
`
	fmt.Println(banner)
	fmt.Printf("版本: %s | 模式: %s | PID: %d\n", Version, cfg.Server.Mode, os.Getpid())
	fmt.Println("══════════════════════════════════════════════════════")
}
