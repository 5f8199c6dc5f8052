// # References:
//
// SPI Flash
//   - [N25Q064A]: N25Q064A Micron Serial NOR Flash Memory datasheet (https://www.micron.com/-/media/client/global/documents/products/data-sheet/nor-flash/serial-nor/n25q/n25q_64a_3v_65nm.pdf)
//   - [MT25Q]: MT25Q Serial NOR Flash Memory datasheet, flag status register description (https://www.micron.com/products/nor-flash/serial-nor-flash)
//
// SPI
//   - [SPI-Modes]: Introduction to SPI Interface, clock polarity and phase (https://www.analog.com/en/analog-dialogue/articles/introduction-to-spi-interface.html)
//
// FTDI (hardware mode of cmd/gspi)
//   - [FTDI-AN_108]: Command Processor for MPSSE and MCU Host Bus Emulation Modes (https://ftdichip.com/wp-content/uploads/2020/08/AN_108_Command_Processor_for_MPSSE_and_MCU_Host_Bus_Emulation_Modes.pdf)
//   - [FTDI-AN_114]: Interfacing FT2232H Hi-Speed Devices To SPI Bus (https://ftdichip.com/wp-content/uploads/2020/08/AN_114_FTDI_Hi_Speed_USB_To_SPI_Example.pdf)
//   - [FTDI-AN_135]: FTDI MPSSE Basics (https://ftdichip.com/wp-content/uploads/2020/08/AN_135_MPSSE_Basics.pdf)
package gspi
