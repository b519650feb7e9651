package monitor

// 便捷函数供外部调用，无需访问 Metrics 实例

// IncExecution 增加跟单执行计数
func IncExecution(action, status string) {
	GetMetrics().IncExecution(action, status)
}

// ObserveExecutionDuration 观察单次执行耗时
func ObserveExecutionDuration(seconds float64) {
	GetMetrics().ObserveExecutionDuration(seconds)
}

// IncRiskBlocked 增加风控拦截计数
func IncRiskBlocked(reason string) {
	GetMetrics().IncRiskBlocked(reason)
}

// IncDedupSkipped 增加去重跳过计数
func IncDedupSkipped() {
	GetMetrics().IncDedupSkipped()
}

// IncExchangeError 增加交易所错误计数
func IncExchangeError(errType string) {
	GetMetrics().IncExchangeError(errType)
}

// IncEventConsumed 增加消费的信号事件计数
func IncEventConsumed(action string) {
	GetMetrics().IncEventConsumed(action)
}

// ObserveFanout 观察一次事件扇出
func ObserveFanout(followers int, seconds float64) {
	GetMetrics().ObserveFanout(followers, seconds)
}

// IncWalletsDeactivated 增加停用钱包计数
func IncWalletsDeactivated() {
	GetMetrics().IncWalletsDeactivated()
}
