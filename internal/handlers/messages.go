package handlers

import "fmt"

const (
	msgStart = "Hi! I analyse X-ray images for fractures. " +
		"Upload your image and I will check it for you. Send /help to see the commands."
	msgUploadPrompt   = "Please upload an X-ray image in JPG or PNG format."
	msgSendImage      = "Please send an image, not text."
	msgWrongFormat    = "Please send the image in JPG or PNG format."
	msgAccepted       = "Thank you! I have received your X-ray. Starting the analysis... Please wait."
	msgProcessingErr  = "Something went wrong while processing the image. Please try uploading it again with /upload."
	msgAnalysisErr    = "Something went wrong while analysing the image. Please try again with /upload."
	msgTimeout        = "The analysis took too long and was cancelled. Please try again with /upload."
	msgStillRunning   = "The analysis of your image is not finished yet. Please wait, it usually takes 1 to 5 minutes."
	msgNoRequest      = "You have no active request. Send /upload first."
	msgFeedbackPrompt = "Rate our service:"
	msgResultPresent  = "Analysis complete! A fracture is present on the submitted X-ray."
	msgResultAbsent   = "Analysis complete! No fracture is present on the submitted X-ray."

	msgHelp = "Available commands:\n" +
		"🔹 /upload - upload an X-ray image for analysis\n" +
		"🔹 /status - check the analysis status\n" +
		"🔹 /feedback - rate the service\n" +
		"🔹 /help - get help using the bot"
)

func msgThanksForRating(rating int) string {
	return fmt.Sprintf("Thank you for your rating! You gave %d stars.", rating)
}
