package lending

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// WRITE-OFF & RECOVERIES
// =============================================================================

// WriteOff is the only route into the written_off tier. The amount written
// off is whatever principal and accrued interest remain. Both balances move
// off book into WrittenOffAmount, so the loan drops out of active exposure;
// from then on it is provisioned on RemainingWrittenOff. The loan leaves the
// daily pass and the record carries trigger write_off.
func WriteOff(loan LoanAccount, policy ProvisioningPolicy, asOf Date, classifier *Classifier) (LoanAccount, LoanClassificationRecord, error) {
	if loan.Tier == TierWrittenOff || loan.Status == LoanWrittenOff {
		return loan, LoanClassificationRecord{}, ErrAlreadyWrittenOff
	}

	previous := loan
	loan.WrittenOffAmount = loan.Exposure()
	loan.OutstandingPrincipal = decimal.Zero
	loan.AccruedInterest = decimal.Zero
	loan.WrittenOffOn = asOf
	loan.Status = LoanWrittenOff
	loan.Tier = TierWrittenOff

	result, err := classifier.Classify(loan, Arrears{AsOf: asOf, DaysInArrears: loan.DaysInArrears}, policy, asOf, TriggerWriteOff)
	if err != nil {
		return previous, LoanClassificationRecord{}, err
	}
	record := result.Record
	record.PreviousTier = previous.Tier
	record.ID = ClassificationRecordID(loan.ID, asOf, TriggerWriteOff, previous.Tier, TierWrittenOff)
	return loan, record, nil
}

// RecordRecovery books cash recovered on a written-off loan. Recoveries
// never exceed the amount written off.
func RecordRecovery(loan LoanAccount, amount decimal.Decimal) (LoanAccount, error) {
	if loan.Status != LoanWrittenOff {
		return loan, ErrNotWrittenOff
	}
	if !amount.IsPositive() {
		return loan, ErrInvalidPayment
	}
	total := loan.Recoveries.Add(amount)
	if total.GreaterThan(loan.WrittenOffAmount) {
		return loan, &OverpaymentError{
			LoanID:      loan.ID,
			Amount:      amount,
			Outstanding: loan.RemainingWrittenOff(),
			Excess:      total.Sub(loan.WrittenOffAmount),
		}
	}
	loan.Recoveries = total
	return loan, nil
}

// RemainingWrittenOff is the recoverable balance still open after write-off.
func (l LoanAccount) RemainingWrittenOff() decimal.Decimal {
	return floorZero(l.WrittenOffAmount.Sub(l.Recoveries))
}
