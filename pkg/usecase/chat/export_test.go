package chat

var (
	IsTokenLimitErrorForTest = isTokenLimitError
	CompressHistoryForTest   = compressHistory
	FormatContextForTest     = formatContext
)
