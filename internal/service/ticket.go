package service

import (
	"github.com/iliyamo/evento/internal/credential"
	"github.com/iliyamo/evento/internal/model"
)

func renderTicket(reg model.Registration, ev model.Event, holder model.User) ([]byte, error) {
	return credential.RenderTicket(credential.Ticket{
		EventName: ev.Name,
		Location:  ev.Location,
		StartsAt:  ev.StartsAt,
		Holder:    holderName(holder),
		EntryCode: reg.EntryCode,
		QRPNG:     reg.QRPNG,
	})
}
