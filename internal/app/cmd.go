package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はレースセッションAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は終了済みセッションの保持期限掃除ワーカーとして
	// 起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はPostgresバックエンド用のblobsテーブルの
	// マイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中サーバーの/healthを1回叩いて終了する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = map[string]Command{
	"serve":       CommandServe,
	"worker":      CommandWorker,
	"migrate":     CommandMigrate,
	"healthcheck": CommandHealthcheck,
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := knownCommands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}
