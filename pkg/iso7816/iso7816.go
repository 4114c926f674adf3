/*
Package iso7816 implements the ISO/IEC 7816-3 and 7816-4 command layer used by
the card security stack.

It covers what a gateway between host applications and card applets needs:

  - command and response APDUs, parsed from and encoded to their short or
    extended wire forms, and the 32-bit CLA INS P1 P2 header matched by the
    access control policy;
  - the CLA byte, moved between logical channels so that a host application
    never addresses a channel it does not own;
  - MANAGE CHANNEL open and close;
  - a Client completing the T=0 procedure statuses 61XX and 6CXX over any
    Transmitter, recording each exchange in a Trace;
  - application selection by AID and the decoding of the FCI it returns.

# Usage

Selecting an applet on a freshly opened channel:

	client := iso7816.NewClient(reader)
	trace, err := client.Send(iso7816.NewOpenChannelCommand())
	if err != nil {
	    return err
	}
	ch, err := iso7816.ParseOpenChannelResponse(trace)
	if err != nil {
	    return err
	}

	cla, _ := iso7816.NewInterindustryClass(false, iso7816.SMNone, ch)
	trace, err = client.Send(iso7816.SelectByAID(cla, aid))
	if err != nil {
	    return err
	}
	result, _ := iso7816.NewSelectResult(trace)
	fmt.Println(result.Describe())

Status words are classified by SW1 (StatusWord.Category). StatusWord.Err
turns anything but normal processing into a protocol fault.
*/
package iso7816
