package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// 运维排查工具：直接读SQLite数据库，打印会话的回合时间线。
// 只读打开，不经过服务进程，机台断网时也能用。

func main() {
	var (
		dbPath  = flag.String("db", "./data/retro-relay.db", "SQLite数据库路径")
		session = flag.String("session", "", "会话口令或会话ID，留空则列出全部会话")
		showAll = flag.Bool("all", false, "包含已作废的回合")
		limit   = flag.Int("limit", 50, "最多显示的回合数，0表示不限")
	)
	flag.Parse()

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", *dbPath))
	if err != nil {
		exitf("打开数据库失败: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		exitf("数据库不可读: %v (路径: %s)", err, *dbPath)
	}

	if *session == "" {
		if err := listSessions(db); err != nil {
			exitf("查询会话失败: %v", err)
		}
		return
	}

	if err := showTimeline(db, *session, *showAll, *limit); err != nil {
		exitf("%v", err)
	}
}

// listSessions 列出全部会话及回合统计
func listSessions(db *sql.DB) error {
	rows, err := db.Query(`
		SELECT s.code, s.session_id, s.name, s.is_active,
		       COUNT(t.id),
		       SUM(CASE WHEN t.invalidated_at IS NOT NULL THEN 1 ELSE 0 END)
		FROM game_sessions s
		LEFT JOIN game_turns t ON t.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.created_at`)
	if err != nil {
		return err
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "口令\t会话ID\t名称\t状态\t回合\t已作废")

	n := 0
	for rows.Next() {
		var (
			code, sessionID, name string
			active                bool
			turns                 int
			invalidated           sql.NullInt64
		)
		if err := rows.Scan(&code, &sessionID, &name, &active, &turns, &invalidated); err != nil {
			return err
		}
		status := "停用"
		if active {
			status = "激活"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			code, sessionID, name, status, turns, invalidated.Int64)
		n++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	w.Flush()

	if n == 0 {
		fmt.Println("(没有会话)")
	}
	return nil
}

// showTimeline 打印单个会话的回合时间线
func showTimeline(db *sql.DB, key string, showAll bool, limit int) error {
	var (
		sessionID, code, name string
		active                bool
	)
	err := db.QueryRow(`
		SELECT session_id, code, name, is_active
		FROM game_sessions
		WHERE code = ? OR session_id = ?`, key, key).
		Scan(&sessionID, &code, &name, &active)
	if err == sql.ErrNoRows {
		return fmt.Errorf("会话未找到: %s", key)
	}
	if err != nil {
		return fmt.Errorf("查询会话失败: %w", err)
	}

	status := "停用"
	if active {
		status = "激活"
	}
	fmt.Printf("会话 %s (%s) [%s] %s\n\n", code, name, status, sessionID)

	// 与服务端账本同序：(turn_ended_at, created_at, id)
	query := `
		SELECT t.id, t.player_name, t.location, t.badge_count,
		       t.turn_ended_at, t.invalidated_at, t.invalidated_by_restore_to_turn_id,
		       (SELECT COUNT(*) FROM game_state_snapshots sn WHERE sn.game_turn_id = t.id)
		FROM game_turns t
		WHERE t.session_id = ?`
	if !showAll {
		query += ` AND t.invalidated_at IS NULL`
	}
	query += ` ORDER BY t.turn_ended_at, t.created_at, t.id`

	rows, err := db.Query(query, sessionID)
	if err != nil {
		return fmt.Errorf("查询回合失败: %w", err)
	}
	defer rows.Close()

	type turnRow struct {
		id, player, location string
		badges, snapshots    int
		endedAt              time.Time
		invalidatedAt        sql.NullTime
		restoredTo           sql.NullString
	}

	var turns []turnRow
	headID := ""
	for rows.Next() {
		var t turnRow
		if err := rows.Scan(&t.id, &t.player, &t.location, &t.badges,
			&t.endedAt, &t.invalidatedAt, &t.restoredTo, &t.snapshots); err != nil {
			return fmt.Errorf("读取回合失败: %w", err)
		}
		if !t.invalidatedAt.Valid {
			headID = t.id
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(turns) == 0 {
		fmt.Println("(会话尚无回合)")
		return nil
	}

	if limit > 0 && len(turns) > limit {
		fmt.Printf("(%d个回合，仅显示最近%d个，加 -limit 0 查看全部)\n\n", len(turns), limit)
		turns = turns[len(turns)-limit:]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, " \t#\t回合ID\t玩家\t地点\t徽章\t结束时间\t快照\t状态")

	for i, t := range turns {
		mark := " "
		state := "有效"
		if t.invalidatedAt.Valid {
			state = "已作废"
			if t.restoredTo.Valid {
				state += " ←回溯到 " + short(t.restoredTo.String)
			}
		} else if t.id == headID {
			mark = "*"
			state = "账本头"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%d\t%s\t%d\t%s\n",
			mark, i+1, short(t.id), t.player, t.location, t.badges,
			t.endedAt.Local().Format("2006-01-02 15:04:05"), t.snapshots, state)
	}
	w.Flush()
	return nil
}

// short 截短UUID便于对照
func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func exitf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
