package proof

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vorpalengineering/x402-agent/types"
	"github.com/vorpalengineering/x402-agent/utils"
)

// SignHandler serves POST /sign for a RemoteSigner, backed by signer
func SignHandler(signer Signer) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req SignRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, types.SettlementRejectedResponse{Error: "invalid request: " + err.Error()})
			return
		}
		if err := utils.ValidateRequirements(&req.PaymentRequirements); err != nil {
			ctx.JSON(http.StatusBadRequest, types.SettlementRejectedResponse{Error: err.Error()})
			return
		}

		payload, err := signer.Sign(ctx.Request.Context(), req.Payer, &req.PaymentRequirements)
		if err != nil {
			ctx.JSON(http.StatusUnprocessableEntity, types.SettlementRejectedResponse{Error: err.Error()})
			return
		}
		ctx.JSON(http.StatusOK, payload)
	}
}
