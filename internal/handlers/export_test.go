package handlers

const (
	MsgStart         = msgStart
	MsgUploadPrompt  = msgUploadPrompt
	MsgSendImage     = msgSendImage
	MsgWrongFormat   = msgWrongFormat
	MsgAccepted      = msgAccepted
	MsgProcessingErr = msgProcessingErr
	MsgAnalysisErr   = msgAnalysisErr
	MsgTimeout       = msgTimeout
	MsgStillRunning  = msgStillRunning
	MsgNoRequest     = msgNoRequest
	MsgResultPresent = msgResultPresent
	MsgResultAbsent  = msgResultAbsent
	MsgHelp          = msgHelp
	MsgFeedback      = msgFeedbackPrompt
)

var (
	Accept             = accept
	ParseRating        = parseRating
	MsgThanksForRating = msgThanksForRating
)
