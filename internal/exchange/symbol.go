package exchange

import "strings"

// FuturesSymbol 将标准交易对转换为 Bitget USDT 永续合约符号
// "BTC/USDT" -> "BTCUSDT_UMCBL"
func FuturesSymbol(pair string) string {
	return strings.ReplaceAll(pair, "/", "") + "_UMCBL"
}
