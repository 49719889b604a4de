package cmd

const (
	RootCmdName  = "carprice"
	RootCmdShort = "Used car price prediction service"
	RootCmdLong  = `carprice serves a pre-trained regression model that predicts the price
of a used car from its year, manufacturer, model, condition, odometer,
transmission, paint color and state.`

	ServeCmdName  = "serve"
	ServeCmdShort = "Start the prediction HTTP server"
	ServeCmdLong  = `Load the model artifact and serve POST /predict, GET /health and
GET /metrics until interrupted.`

	PredictCmdName  = "predict"
	PredictCmdShort = "Ask a running server for a price"

	ModelCmdName      = "model"
	ModelCmdShort     = "Inspect model artifacts"
	ModelInfoCmdName  = "info"
	ModelInfoCmdShort = "Print the shape of a model artifact"
)
