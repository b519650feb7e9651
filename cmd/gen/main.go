package main

import (
	"flag"

	"github.com/utrading/utrading-copy-engine/config"
	"github.com/utrading/utrading-copy-engine/internal/dal"
)

// gorm-gen 代码生成入口
func main() {
	var configFile string
	var outPath string
	flag.StringVar(&configFile, "config", "cfg.toml", "config file path")
	flag.StringVar(&outPath, "out", "internal/dal/gen", "gen output path")
	flag.Parse()

	if err := config.Load(configFile); err != nil {
		panic(err)
	}

	dal.InitMysqlDB(config.Get().MySQL)
	defer dal.CloseMySQL()

	dal.GenExecute(outPath, dal.MySQL())
}
